package model

import (
	"gorm.io/gorm"
)

// Account is a wallet account. Sk is nil for watch only accounts.
type Account struct {
	ID      uint32 `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"not null"`
	Seed    string
	AIndex  uint32
	Sk      []byte
	Fvk     []byte `gorm:"uniqueIndex;not null"`
	Address string `gorm:"not null"`
	Birth   uint32
}

// TAddr is the transparent key of an account.
type TAddr struct {
	Account uint32 `gorm:"primaryKey;autoIncrement:false"`
	Sk      []byte
	Address string `gorm:"not null"`
}

func (TAddr) TableName() string { return "taddrs" }

// OrchardAddr is the Orchard key of an account.
type OrchardAddr struct {
	Account uint32 `gorm:"primaryKey;autoIncrement:false"`
	Sk      []byte
	Fvk     []byte `gorm:"not null"`
}

// UASetting selects the receivers of the account's unified address.
type UASetting struct {
	Account     uint32 `gorm:"primaryKey;autoIncrement:false"`
	Transparent bool
	Sapling     bool
	Orchard     bool
}

// Block is a sync checkpoint.
type Block struct {
	Height    uint32 `gorm:"primaryKey;autoIncrement:false"`
	Hash      []byte `gorm:"not null"`
	Timestamp uint32
}

// Tree is the serialized commitment tree of a pool at a checkpoint.
type Tree struct {
	Height uint32 `gorm:"primaryKey;autoIncrement:false"`
	Data   []byte `gorm:"not null"`
}

type SaplingTree struct{ Tree }

func (SaplingTree) TableName() string { return "sapling_tree" }

type OrchardTree struct{ Tree }

func (OrchardTree) TableName() string { return "orchard_tree" }

// SaplingWitness is the serialized witness of a note at a checkpoint.
type SaplingWitness struct {
	ID     uint   `gorm:"primaryKey"`
	Note   uint   `gorm:"not null;uniqueIndex:idx_sapling_witness"`
	Height uint32 `gorm:"not null;uniqueIndex:idx_sapling_witness;index"`
	Data   []byte `gorm:"not null"`
}

type OrchardWitness struct {
	ID     uint   `gorm:"primaryKey"`
	Note   uint   `gorm:"not null;uniqueIndex:idx_orchard_witness"`
	Height uint32 `gorm:"not null;uniqueIndex:idx_orchard_witness;index"`
	Data   []byte `gorm:"not null"`
}

// Transaction is the net effect of a chain transaction on one account.
type Transaction struct {
	ID        uint   `gorm:"primaryKey"`
	Account   uint32 `gorm:"not null;uniqueIndex:idx_tx_position"`
	Txid      []byte `gorm:"not null;index"`
	Height    uint32 `gorm:"not null;uniqueIndex:idx_tx_position"`
	Timestamp uint32
	TxIndex   uint32 `gorm:"not null;uniqueIndex:idx_tx_position"`
	Value     int64  `gorm:"not null"`
	Address   string
	Memo      string
}

// ReceivedNote is a decrypted note. Rho is only set for Orchard notes.
type ReceivedNote struct {
	ID          uint   `gorm:"primaryKey"`
	Account     uint32 `gorm:"not null;index"`
	Tx          uint   `gorm:"not null;uniqueIndex:idx_note_output"`
	Height      uint32 `gorm:"not null"`
	Position    uint64 `gorm:"not null"`
	OutputIndex uint32 `gorm:"not null;uniqueIndex:idx_note_output"`
	Diversifier []byte `gorm:"not null"`
	Value       uint64 `gorm:"not null"`
	Rcm         []byte `gorm:"not null"`
	Rho         []byte
	Nf          []byte `gorm:"not null;uniqueIndex"`
	Orchard     bool   `gorm:"not null;uniqueIndex:idx_note_output"`
	Spent       *uint32
	Excluded    bool
}

type Contact struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"not null"`
	Address string `gorm:"not null"`
	Dirty   bool
}

// Message is a memo received or sent by an account.
type Message struct {
	ID        uint   `gorm:"primaryKey"`
	Account   uint32 `gorm:"not null;index"`
	Sender    string
	Recipient string `gorm:"not null"`
	Subject   string
	Body      string
	Timestamp uint32
	Height    uint32 `gorm:"not null"`
	Incoming  bool
	Read      bool
	Tx        uint
}

type SendTemplate struct {
	ID             uint   `gorm:"primaryKey"`
	Title          string `gorm:"not null"`
	Address        string `gorm:"not null"`
	Amount         uint64
	FiatAmount     float64
	FeeIncluded    bool
	Fiat           string
	IncludeReplyTo bool
	Subject        string
	Body           string
}

type HistoricalPrice struct {
	Currency  string `gorm:"primaryKey"`
	Timestamp int64  `gorm:"primaryKey;autoIncrement:false"`
	Price     float64
}

type Property struct {
	Name  string `gorm:"primaryKey"`
	Value string
}

// SchemaVersion is the single row holding the applied migration.
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey;autoIncrement:false"`
	Version uint32
}

func (SchemaVersion) TableName() string { return "schema_version" }

// NewDB opens a database with the given dialector and migrates it to the
// latest schema version.
func NewDB(dialector gorm.Dialector, opts ...gorm.Option) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
