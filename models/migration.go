package models

import (
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&TenantSettings{},
		&PaymentRecord{},
		&RecipientMapping{},
		&WebhookEvent{},
	)
	if err != nil {
		return err
	}

	seeds := []TenantSettings{
		{Code: TenantUS, Rail: RailMeridian, ProvingPeriodHours: DefaultProvingPeriodHours, SourceCurrency: "USD"},
		{Code: TenantCA, Rail: RailGlobalPay, ProvingPeriodHours: DefaultProvingPeriodHours, SourceCurrency: "USD"},
	}
	for _, seed := range seeds {
		s := seed
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
			log.Printf("failed to seed tenant %s: %v", seed.Code, err)
		}
	}
	return nil
}
