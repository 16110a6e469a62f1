package config

import (
	"errors"

	"gorm.io/gorm"
)

// pluginConfigRow is the gorm model backing DBProvider: plugin name as
// primary key, raw config bytes as the value.
type pluginConfigRow struct {
	Plugin string `gorm:"primaryKey"`
	Config []byte
}

func (pluginConfigRow) TableName() string { return "pylon_plugin_config" }

// DBProvider wraps another Provider (the "backend"): reads fall through to
// the wrapped backend when no database row exists for a plugin; writes go
// to the database only.
type DBProvider struct {
	DB      *gorm.DB
	Backend Provider
}

// NewDBProvider constructs a DBProvider over db, falling through reads to
// backend when no row exists.
func NewDBProvider(db *gorm.DB, backend Provider) *DBProvider {
	return &DBProvider{DB: db, Backend: backend}
}

func (p *DBProvider) Init() error {
	if err := p.Backend.Init(); err != nil {
		return err
	}
	return p.DB.AutoMigrate(&pluginConfigRow{})
}

func (p *DBProvider) Deinit() error {
	return p.Backend.Deinit()
}

func (p *DBProvider) row(pluginName string) (*pluginConfigRow, error) {
	var row pluginConfigRow
	err := p.DB.First(&row, "plugin = ?", pluginName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *DBProvider) ConfigDataExists(pluginName string) bool {
	row, err := p.row(pluginName)
	if err != nil {
		return false
	}
	if row == nil {
		return p.Backend.ConfigDataExists(pluginName)
	}
	return true
}

func (p *DBProvider) GetConfigData(pluginName string) ([]byte, error) {
	row, err := p.row(pluginName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return p.Backend.GetConfigData(pluginName)
	}
	return row.Config, nil
}

func (p *DBProvider) AddConfigData(pluginName string, data []byte) error {
	row := pluginConfigRow{Plugin: pluginName, Config: data}
	return p.DB.Save(&row).Error
}

func (p *DBProvider) DeleteConfigData(pluginName string) error {
	return p.DB.Delete(&pluginConfigRow{}, "plugin = ?", pluginName).Error
}

var _ Provider = (*DBProvider)(nil)
