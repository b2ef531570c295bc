package main

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Не удалось инициализировать zap logger: %v", err)
	}
	defer func() {
		logger.Sync()
		if r := recover(); r != nil {
			logger.Fatal("Неожиданное завершение приложения", zap.Any("panic", r))
		}
	}()

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Fatal("Ошибка выполнения команды", zap.Error(err))
	}
}
