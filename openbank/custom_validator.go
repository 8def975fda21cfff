package openbank

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validatorOnce sync.Once
var validate *validator.Validate

// maskedNumber matches the masked identifiers the aggregator sends for
// account numbers, e.g. "****1234" or "SD**3391".
var maskedNumber = regexp.MustCompile(`^[A-Z0-9*]{0,6}\*{2,}[0-9]{2,6}$|^[0-9]{2,4}$`)

func Validator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")

		err := validate.RegisterValidation("masked_number", maskedNumberValidator)
		if err != nil {
			log.Fatalf("Unexpected err %v", err)
		}

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

func maskedNumberValidator(fl validator.FieldLevel) bool {
	return maskedNumber.MatchString(fl.Field().String())
}

func ValidateStruct(obj interface{}) error {
	if kindOfData(obj) == reflect.Struct {
		if err := Validator().Struct(obj); err != nil {
			return err
		}
	}
	return nil
}

func kindOfData(data interface{}) reflect.Kind {
	value := reflect.ValueOf(data)
	valueType := value.Kind()
	if valueType == reflect.Ptr {
		valueType = value.Elem().Kind()
	}
	return valueType
}
