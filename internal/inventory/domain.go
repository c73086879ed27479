package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaterialType enumerates raw-material compounds.
type MaterialType string

const (
	MaterialNBR  MaterialType = "NBR"
	MaterialBUR  MaterialType = "BUR"
	MaterialVT   MaterialType = "VT"
	MaterialBT   MaterialType = "BT"
	MaterialBOOM MaterialType = "BOOM"
)

// WastePerSealMM is the extra material consumed per manufactured seal on
// top of the seal height (cutting waste).
var WastePerSealMM = decimal.NewFromInt(2)

// RawMaterialLot is one bar of raw material identified by unit code and
// diameters. Height shrinks as seals are cut from it.
type RawMaterialLot struct {
	ID            uuid.UUID       `json:"id"`
	UnitCode      string          `json:"unit_code"`
	MaterialType  MaterialType    `json:"material_type"`
	InnerDiameter float64         `json:"inner_diameter"`
	OuterDiameter float64         `json:"outer_diameter"`
	HeightMM      decimal.Decimal `json:"height_mm"`
	MinHeightMM   decimal.Decimal `json:"min_height_mm"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PiecesAvailable derives how many seals of the given height the lot can
// still produce.
func (l RawMaterialLot) PiecesAvailable(sealHeightMM decimal.Decimal) int64 {
	perPiece := sealHeightMM.Add(WastePerSealMM)
	if perPiece.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return l.HeightMM.Div(perPiece).IntPart()
}

// LowStock reports whether the lot fell under its threshold.
func (l RawMaterialLot) LowStock() bool {
	return l.HeightMM.LessThanOrEqual(l.MinHeightMM)
}

// ConsumptionLine requests cutting Count seals of SealHeightMM from the
// lot matching the selector fields.
type ConsumptionLine struct {
	UnitCode      string          `json:"unit_code"`
	InnerDiameter float64         `json:"inner_diameter"`
	OuterDiameter float64         `json:"outer_diameter"`
	SealHeightMM  decimal.Decimal `json:"seal_height_mm"`
	Count         int64           `json:"count"`
}

// RequiredMM returns the total height the line consumes.
func (c ConsumptionLine) RequiredMM() decimal.Decimal {
	return c.SealHeightMM.Add(WastePerSealMM).Mul(decimal.NewFromInt(c.Count))
}

// MovementReason tags inventory movements.
type MovementReason string

const (
	ReasonConsume MovementReason = "consume"
	ReasonRestore MovementReason = "restore"
	ReasonReceive MovementReason = "receive"
	ReasonAdjust  MovementReason = "adjust"
)

// Movement is the audit record of one height change.
type Movement struct {
	ID              uuid.UUID       `json:"id"`
	LotID           uuid.UUID       `json:"lot_id"`
	DeltaMM         decimal.Decimal `json:"delta_mm"`
	Reason          MovementReason  `json:"reason"`
	LinkedInvoiceID *uuid.UUID      `json:"linked_invoice_id,omitempty"`
	Note            string          `json:"note"`
	CreatedAt       time.Time       `json:"created_at"`
}

var (
	// ErrInsufficientStock indicates a lot cannot cover the requested cut.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrLotNotFound indicates no lot matches the selector.
	ErrLotNotFound = errors.New("inventory: lot not found")
	// ErrInvalidLine indicates a malformed consumption line.
	ErrInvalidLine = errors.New("inventory: invalid consumption line")
)

// LotInput groups fields for creating or updating a lot.
type LotInput struct {
	UnitCode      string          `json:"unit_code"`
	MaterialType  MaterialType    `json:"material_type"`
	InnerDiameter float64         `json:"inner_diameter"`
	OuterDiameter float64         `json:"outer_diameter"`
	HeightMM      decimal.Decimal `json:"height_mm"`
	MinHeightMM   decimal.Decimal `json:"min_height_mm"`
}
