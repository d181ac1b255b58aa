package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductType определяет, учитывается ли товар на складе.
type ProductType string

const (
	ProductTypePhysical ProductType = "physical"
	ProductTypeDigital  ProductType = "digital"
	ProductTypeService  ProductType = "service"
)

// ProductStatus описывает доступность товара для продажи.
type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusInactive     ProductStatus = "inactive"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// ProductSnapshot — срез данных товара на момент обработки продажи.
type ProductSnapshot struct {
	ID                 string
	CompanyID          string
	Name               string
	SKU                string
	Type               ProductType
	Status             ProductStatus
	Price              decimal.Decimal
	TaxPercentage      decimal.Decimal
	Stock              int64
	MinStock           int64
	AllowNegativeStock bool
}

// IsPhysical сообщает, что товар списывается со склада.
func (p ProductSnapshot) IsPhysical() bool {
	return p.Type == ProductTypePhysical
}

// IsActive сообщает, что товар можно продавать.
func (p ProductSnapshot) IsActive() bool {
	return p.Status == ProductStatusActive
}

// StockMovementType — направление складского движения.
type StockMovementType string

const (
	StockMovementIn  StockMovementType = "in"
	StockMovementOut StockMovementType = "out"
)

// StockUpdate — запрос на изменение остатка. Quantity со знаком: минус списывает.
type StockUpdate struct {
	CompanyID string
	ProductID string
	Quantity  int64
	Reason    string
	Reference string
}

// StockMovement — движение, зафиксированное складом.
type StockMovement struct {
	ID        string
	CompanyID string
	ProductID string
	Type      StockMovementType
	Quantity  int64
	Reason    string
	Reference string
	CreatedAt time.Time
}

// StockMovementRecord — запись манифеста саги; Quantity всегда положительное.
type StockMovementRecord struct {
	MovementID string            `json:"movement_id"`
	ProductID  string            `json:"product_id"`
	Quantity   int64             `json:"quantity"`
	Type       StockMovementType `json:"type"`
}

// IndexSnapshots строит карту товаров по идентификатору.
func IndexSnapshots(snapshots []ProductSnapshot) map[string]ProductSnapshot {
	out := make(map[string]ProductSnapshot, len(snapshots))
	for _, s := range snapshots {
		out[s.ID] = s
	}
	return out
}
