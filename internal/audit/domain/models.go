package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tags classify how a record entered the ledger.
const (
	TagSubmission = "submission"
	TagTimeout    = "timeout"
	TagRetry      = "retry"
)

// Record is one row of the append-only submission ledger. Rows outlive
// the applications they describe, so they carry enough denormalized
// detail to answer support queries after the application row is gone.
type Record struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	ReferenceCode    string       `json:"reference_code" gorm:"size:32;index;not null"`
	SubmittedAt      time.Time    `json:"submitted_at" gorm:"not null;index"`
	Surname          string       `json:"surname" gorm:"size:128"`
	Source           string       `json:"source" gorm:"size:64"`
	Tag              string       `json:"tag" gorm:"size:16;not null"`
	CertOrdered      bool         `json:"cert_ordered"`
	CertProductCode  string       `json:"cert_product_code" gorm:"size:8"`
	CertQuantity     int          `json:"cert_quantity"`
	CourierDelivery  bool         `json:"courier_delivery"`
	AmountExpected   int64        `json:"amount_expected"`
	RegistryStatus   string       `json:"registry_status" gorm:"size:32"`
	RegistryDuplicate bool        `json:"registry_duplicate"`
	TxnAttempted     bool         `json:"txn_attempted"`
	TxnReconciled    bool         `json:"txn_reconciled"`
	TxnSuccess       bool         `json:"txn_success"`
	TxnMessage       string       `json:"txn_message" gorm:"size:255"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (Record) TableName() string {
	return "audit_records"
}
