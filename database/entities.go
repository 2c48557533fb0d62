package database

import "time"

// BaseEntity gives every GORM model an internal auto-increment primary key,
// distinct from whatever domain-meaningful identity the entity carries
// (Inscription.ID is a content hash, not a row number). This mirrors the
// teacher's habit of layering a numeric primary key under a
// business-meaningful unique column rather than promoting the business key
// to the primary key directly.
type BaseEntity struct {
	RowID     uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Inscription is the content-addressed identity record at the center of the
// store. Content itself is never persisted, only the metadata describing
// where it came from and who owns it now.
type Inscription struct {
	BaseEntity

	ID                string `gorm:"column:id;type:varchar(80);uniqueIndex;not null"`
	ContentType       string `gorm:"type:varchar(255)"`
	Creator           string `gorm:"type:varchar(42);index;not null"`
	CurrentOwner      string `gorm:"type:varchar(42);index;not null"`
	CreationTx        string `gorm:"type:varchar(66);not null"`
	CreationBlock     uint64 `gorm:"index;not null"`
	CreationTimestamp uint64 `gorm:"not null"`
	ESIP6             bool   `gorm:"not null"`
	ESIP6Sequence     *int   // nil for plain (non-ESIP-6) inscriptions
	CreatedByContract bool   `gorm:"not null"`
	CreatorContract   string `gorm:"type:varchar(42)"` // empty when CreatedByContract is false
}

func (Inscription) TableName() string { return "inscriptions" }

// TransferType distinguishes the three ways ownership can move.
type TransferType string

const (
	TransferEOA   TransferType = "eoa"
	TransferESIP1 TransferType = "esip1"
	TransferESIP2 TransferType = "esip2"
)

// Transfer is an append-only ledger row; nothing ever updates or deletes a
// Transfer once written.
type Transfer struct {
	BaseEntity

	InscriptionID   string       `gorm:"type:varchar(80);index;not null"`
	From            string       `gorm:"type:varchar(42);not null"`
	To              string       `gorm:"type:varchar(42);not null"`
	TxHash          string       `gorm:"type:varchar(66);not null"`
	BlockNumber     uint64       `gorm:"index;not null"`
	Timestamp       uint64       `gorm:"not null"`
	LogIndex        *uint        // non-nil only for ESIP-1/ESIP-2 transfers
	ContractAddress string       `gorm:"type:varchar(42)"` // empty for plain EOA transfers
	TransferType    TransferType `gorm:"type:varchar(16);not null"`
}

func (Transfer) TableName() string { return "transfers" }

// Collection is keyed by the inscription that registered it.
type Collection struct {
	BaseEntity

	ID          string `gorm:"column:id;type:varchar(80);uniqueIndex;not null"`
	Name        string `gorm:"type:varchar(255)"`
	Symbol      string `gorm:"type:varchar(64)"`
	Description string `gorm:"type:text"`
	MaxSupply   uint64 `gorm:"not null"`
	Owner       string `gorm:"type:varchar(42);index;not null"`
	Locked      bool   `gorm:"not null"`
}

func (Collection) TableName() string { return "collections" }

// CollectionItem binds a dense, 1-based item_index within a collection to
// the inscription occupying that slot.
type CollectionItem struct {
	BaseEntity

	CollectionID  string `gorm:"type:varchar(80);uniqueIndex:idx_collection_item;uniqueIndex:idx_collection_item_inscription;not null"`
	ItemIndex     uint64 `gorm:"uniqueIndex:idx_collection_item;not null"`
	InscriptionID string `gorm:"type:varchar(80);uniqueIndex:idx_collection_item_inscription;not null"`
}

func (CollectionItem) TableName() string { return "collection_items" }

// FixedDenominationToken is an erc-20-fixed-denomination deployment: every
// mint issues exactly `denomination` units, never a partial amount.
type FixedDenominationToken struct {
	BaseEntity

	Tick          string `gorm:"type:varchar(28);uniqueIndex;not null"`
	MaxSupply     uint64 `gorm:"not null"`
	Denomination  uint64 `gorm:"not null"`
	Minted        uint64 `gorm:"not null"`
	InscriptionID string `gorm:"type:varchar(80);index;not null"` // deploy inscription
}

func (FixedDenominationToken) TableName() string { return "fixed_denomination_tokens" }

// BondingCurveToken is an erc-20-bonding-curve deployment: same supply
// bookkeeping as FixedDenominationToken, plus curve parameters and an
// accumulated reserve.
type BondingCurveToken struct {
	BaseEntity

	Tick            string `gorm:"type:varchar(28);uniqueIndex;not null"`
	MaxSupply       uint64 `gorm:"not null"`
	Denomination    uint64 `gorm:"not null"`
	Minted          uint64 `gorm:"not null"`
	BasePrice       uint64 `gorm:"not null"`
	PriceIncrement  uint64 `gorm:"not null"`
	Reserve         uint64 `gorm:"not null"`
	InscriptionID   string `gorm:"type:varchar(80);index;not null"`
}

func (BondingCurveToken) TableName() string { return "bonding_curve_tokens" }

// TokenKind distinguishes which token table a TokenNote is backed by,
// since both fixed-denomination and bonding-curve ticks share the note
// namespace conceptually but live in separate tables.
type TokenKind string

const (
	TokenKindFixed   TokenKind = "fixed"
	TokenKindBonding TokenKind = "bonding"
)

// TokenNote is a single transferable unit of a fungible tick. Its Owner
// column is a mirror of the backing inscription's CurrentOwner and must be
// kept in lockstep by the materializer on every transfer.
type TokenNote struct {
	BaseEntity

	Tick          string    `gorm:"type:varchar(28);uniqueIndex:idx_tick_note;not null"`
	Kind          TokenKind `gorm:"type:varchar(16);not null"`
	NoteID        uint64    `gorm:"uniqueIndex:idx_tick_note;not null"`
	InscriptionID string    `gorm:"type:varchar(80);uniqueIndex;not null"`
	Owner         string    `gorm:"type:varchar(42);index;not null"`
	Amount        uint64    `gorm:"not null"`
}

func (TokenNote) TableName() string { return "token_notes" }

// Checkpoint is a single-row-per-name persisted cursor. The indexer keeps
// exactly one row, named by checkpointName, tracking the last fully-applied
// block.
type Checkpoint struct {
	BaseEntity

	Name               string `gorm:"type:varchar(64);uniqueIndex;not null"`
	LastProcessedBlock uint64 `gorm:"not null"`
	UpdatedAtBlockTime uint64 `gorm:"not null"`
}

func (Checkpoint) TableName() string { return "checkpoints" }
