package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/qirsh/qirsh/gateway"
	"github.com/qirsh/qirsh/ledger"
	"github.com/qirsh/qirsh/linking"
	"github.com/qirsh/qirsh/openbank"
)

var (
	logrusLogger   = logrus.New()
	qirshConfig    openbank.Config
	database       *gorm.DB
	redisClient    *redis.Client
	auth           gateway.JWTAuth
	linkingService linking.Service
)

// GetMainEngine function responsible for getting all of our routes to be delivered for gin
func GetMainEngine() *gin.Engine {
	route := gin.Default()
	route.HandleMethodNotAllowed = true
	route.Use(gateway.Instrumentation())
	route.Use(gateway.RequestID())
	route.Use(gateway.RequestLogger(logrusLogger, logSampling(qirshConfig)))
	route.Use(gateway.OptionsMiddleware)

	route.GET("/metrics", gin.WrapH(promhttp.Handler()))
	route.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": true})
	})

	limiter := gateway.RateLimiter{
		Redis:  redisClient,
		Limit:  qirshConfig.RateLimit,
		Window: rateLimitWindow(qirshConfig),
	}

	link := route.Group("/linking")
	{
		// the callback arrives as a browser redirect, the session may be
		// absent and the handler decides what that means
		link.GET("/callback", auth.SoftAuthMiddleware(), linkingService.Callback)

		link.Use(auth.AuthMiddleware())
		link.POST("/start", limiter.Middleware(), linkingService.StartLink)
		link.POST("/connections/:id/revoke", linkingService.RevokeConnection)
	}
	return route
}

func init() {
	var err error

	if err = parseConfig(&qirshConfig); err != nil {
		logrusLogger.Printf("error in parsing file: %v", err)
	}
	configDefaults(&qirshConfig)
	configureLogger(qirshConfig)
	if err = openbank.ValidateStruct(qirshConfig); err != nil {
		logrusLogger.Fatalf("invalid configuration: %v", err)
	}

	database, err = gorm.Open(sqlite.Open(qirshConfig.DatabasePath), &gorm.Config{})
	if err != nil {
		logrusLogger.Fatalf("error in connecting to db: %v", err)
	}
	if err = ledger.Migrate(database); err != nil {
		logrusLogger.Fatalf("error in migrating db: %v", err)
	}

	redisClient = redis.NewClient(&redis.Options{Addr: qirshConfig.RedisPort, DB: 0})

	auth = gateway.JWTAuth{Key: []byte(qirshConfig.JWTKey)}
	auth.Init()

	bank := openbank.NewClient(qirshConfig.GatewayURL, qirshConfig.GatewayAPIKey, logrusLogger)
	linkingService = linking.Service{
		Db:     database,
		Redis:  redisClient,
		Logger: logrusLogger,
		Config: qirshConfig,
		Bank:   bank,
		Audit:  &linking.RedisAuditor{Redis: redisClient, Logger: logrusLogger},
	}
}

func main() {
	if err := GetMainEngine().Run(qirshConfig.Port); err != nil {
		logrusLogger.Fatalf("error in running the server: %v", err)
	}
}
