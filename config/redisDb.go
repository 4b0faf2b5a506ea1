package config

import (
	"context"
	"log"
	"os"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedis is best-effort: the payout lock degrades to the DB unique
// constraint when Redis is unreachable, so startup never blocks on it.
func ConnectRedis() {
	godotenv.Load()
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		log.Println("REDIS_ADDRESS not set; payout locking falls back to the DB constraint only")
		return
	}

	rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unreachable at %s: %v; payout locking falls back to the DB constraint only", addr, err)
		rdb = nil
		return
	}
	locker = redislock.New(rdb)
	log.Printf("connected to redis at %s", addr)
}
