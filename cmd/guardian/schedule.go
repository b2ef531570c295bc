package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// sweepTrigger calls the server's timeout endpoint.
type sweepTrigger struct {
	client *http.Client
	target string
	token  string
	logger *zap.Logger
}

func (t *sweepTrigger) Run(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Cron-Token", t.token)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("неожиданный статус %s: %s", resp.Status, body)
	}
	t.logger.Info("Проверка таймаутов выполнена", zap.ByteString("response", body))
	return nil
}

// runSchedule fires the trigger on spec until ctx is done.
func runSchedule(ctx context.Context, spec string, trigger *sweepTrigger) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := trigger.Run(ctx); err != nil {
			trigger.logger.Error("Ошибка вызова проверки таймаутов", zap.String("target", trigger.target), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("неверное расписание %q: %w", spec, err)
	}
	c.Start()
	trigger.logger.Info("Планировщик запущен", zap.String("spec", spec), zap.String("target", trigger.target))
	<-ctx.Done()
	<-c.Stop().Done()
	trigger.logger.Info("Планировщик остановлен")
	return nil
}
