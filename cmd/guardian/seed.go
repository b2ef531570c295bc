package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/service"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"go.uber.org/zap"
)

type seedAdmin struct {
	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
	Pin         string `toml:"pin"`
}

type seedItem struct {
	Key         string `toml:"item_key"`
	Name        string `toml:"name"`
	Cost        int64  `toml:"cost"`
	Description string `toml:"description"`
}

type seedFile struct {
	Admins []seedAdmin `toml:"admins"`
	Items  []seedItem  `toml:"items"`
}

type seedReport struct {
	Tables int
	Admins int
	Items  int
}

func loadSeed(path string) (seedFile, error) {
	var seed seedFile
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return seedFile{}, fmt.Errorf("файл %s: %w", path, err)
	}
	return seed, nil
}

func applySeed(ctx context.Context, tables tableCreator, accounts *service.AccountService, shop *service.ShopService, seed seedFile, logger *zap.Logger) (seedReport, error) {
	var rep seedReport

	names := make([]string, 0, len(sheet.DefaultHeaders))
	for name := range sheet.DefaultHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		created, err := tables.EnsureTable(ctx, name, sheet.DefaultHeaders[name])
		if err != nil {
			return rep, fmt.Errorf("таблица %s: %w", name, err)
		}
		if created {
			logger.Info("Создана таблица", zap.String("table", name))
			rep.Tables++
		}
	}

	for _, a := range seed.Admins {
		if _, err := accounts.Register(ctx, models.RegisterRequest{UserID: a.UserID, DisplayName: a.DisplayName, Pin: a.Pin}); err != nil {
			return rep, fmt.Errorf("администратор %s: %w", a.UserID, err)
		}
		if err := accounts.SetRole(ctx, a.UserID, models.RoleAdmin); err != nil {
			return rep, fmt.Errorf("администратор %s: %w", a.UserID, err)
		}
		rep.Admins++
	}

	for _, it := range seed.Items {
		err := shop.AddItem(ctx, models.ShopItem{Key: it.Key, Name: it.Name, Cost: it.Cost, Description: it.Description})
		if errors.Is(err, service.ErrInvalidInput) {
			logger.Warn("Товар пропущен", zap.String("item_key", it.Key), zap.Error(err))
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("товар %s: %w", it.Key, err)
		}
		rep.Items++
	}
	return rep, nil
}
