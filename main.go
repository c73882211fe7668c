package main

import (
	"log"
	"os"
	"strings"
	"time"

	"mediagen_back/authorization"
	"mediagen_back/cache"
	"mediagen_back/generations"
	"mediagen_back/inference"
	"mediagen_back/llm"
	"mediagen_back/storage"
	"mediagen_back/workflow"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	db, err := generations.OpenDatabaseFromEnv()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	mediaStore, err := storage.NewMediaStorageFromEnv()
	if err != nil {
		log.Fatalf("init media storage: %v", err)
	}

	runner, err := inference.NewClientFromEnv()
	if err != nil {
		log.Fatalf("init inference client: %v", err)
	}

	var keywords workflow.Keyworder
	if chatClient, err := llm.NewChatClientFromEnv(); err != nil {
		log.Printf("keyword extraction disabled: %v", err)
		keywords = llm.NewKeywordExtractor(nil)
	} else {
		keywords = llm.NewKeywordExtractor(chatClient)
	}

	// Redis fans change notifications out across instances. Without it the
	// feed still works within a single process.
	redisClient, err := cache.NewRedisClientFromEnv()
	if err != nil {
		log.Printf("redis unavailable, using in-process change feed: %v", err)
		redisClient = nil
	}
	feed := generations.NewChangeFeed(redisClient)
	defer feed.Close()

	store, err := generations.NewStore(db, feed)
	if err != nil {
		log.Fatalf("init generation store: %v", err)
	}

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	var guard *authorization.Guard
	if strings.EqualFold(strings.TrimSpace(os.Getenv("AUTH_DISABLED")), "true") {
		log.Printf("authentication disabled, endpoints are open")
	} else {
		authModule, err := authorization.RegisterRoutes(r, db)
		if err != nil {
			log.Fatalf("register auth routes: %v", err)
		}
		guard = authModule.Guard()
	}

	if _, err := generations.RegisterRoutes(r, store, mediaStore, guard); err != nil {
		log.Fatalf("register generation routes: %v", err)
	}

	if _, err := workflow.RegisterRoutes(r, mediaStore, runner, keywords, store, guard); err != nil {
		log.Fatalf("register workflow routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}

func corsConfig() cors.Config {
	config := cors.DefaultConfig()
	origins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if origins == "" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = strings.Split(origins, ",")
	}
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	config.MaxAge = 12 * time.Hour
	return config
}
