package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig maps certificate product codes to prices. Amounts are cents.
type PricingConfig struct {
	Products          []ProductPrice `mapstructure:"products"`
	DeliverySurcharge int64          `mapstructure:"deliverySurcharge"`
}

type ProductPrice struct {
	Code       string `mapstructure:"code"`
	PriceCents int64  `mapstructure:"priceCents"`
}

var ErrUnknownProduct = errors.New("unknown_product_code")

// Price returns the total price in cents for a certificate order, or
// ErrUnknownProduct when the product code is not configured.
func (c PricingConfig) Price(productCode string, quantity int, courierDelivery bool) (int64, error) {
	code := strings.ToUpper(strings.TrimSpace(productCode))
	if code == "" || quantity <= 0 {
		return 0, ErrUnknownProduct
	}
	for _, product := range c.Products {
		if strings.EqualFold(product.Code, code) {
			total := product.PriceCents * int64(quantity)
			if courierDelivery {
				total += c.DeliverySurcharge
			}
			return total, nil
		}
	}
	return 0, ErrUnknownProduct
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Products: []ProductPrice{
			{Code: "ZBBC", PriceCents: 3300},
			{Code: "ZBFP", PriceCents: 5500},
			{Code: "ZBPP", PriceCents: 5500},
		},
		DeliverySurcharge: 500,
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/smartstart/config") // Volume-mounted config
	v.AddConfigPath("/etc/smartstart")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("SMARTSTART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.products", defaults.Products)
		v.SetDefault("pricing.deliverySurcharge", defaults.DeliverySurcharge)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// NewStaticPricingConfigHolder wraps a fixed config, for tests.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Products) == 0 {
		return errors.New("pricing.products cannot be empty")
	}
	for _, product := range cfg.Products {
		if strings.TrimSpace(product.Code) == "" || product.PriceCents <= 0 {
			return errors.New("pricing.products entries need a code and a positive price")
		}
	}
	return nil
}
