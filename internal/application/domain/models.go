package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Registry activities. A submission carrying a certificate order is
// validated first and finalized only after payment reconciles.
const (
	ActivityValidateOnly   = "validateOnly"
	ActivityFullSubmission = "fullSubmission"
)

// Submission is the registration payload as received from the intake
// form and forwarded to the registry. Fields the registry does not
// understand (confirmation URLs, email) are stripped before forwarding.
type Submission struct {
	Activity                string            `json:"activity,omitempty"`
	Child                   Child             `json:"child"`
	Mother                  *Parent           `json:"mother,omitempty"`
	Father                  *Parent           `json:"father,omitempty"`
	CertificateOrder        *CertificateOrder `json:"certificateOrder,omitempty"`
	PaymentResult           *PaymentResult    `json:"paymentResult,omitempty"`
	ConfirmationEmail       string            `json:"confirmationEmail,omitempty"`
	ConfirmationURLSuccess  string            `json:"confirmationUrlSuccess,omitempty"`
	ConfirmationURLFailure  string            `json:"confirmationUrlFailure,omitempty"`
}

type Child struct {
	FirstNames string `json:"firstNames"`
	Surname    string `json:"surname"`
	BirthDate  string `json:"birthDate"`
	Sex        string `json:"sex,omitempty"`
	BirthPlace string `json:"birthPlace,omitempty"`
}

type Parent struct {
	FirstNames string `json:"firstNames"`
	Surname    string `json:"surname"`
	BirthDate  string `json:"birthDate,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

type CertificateOrder struct {
	ProductCode     string           `json:"productCode"`
	Quantity        int              `json:"quantity"`
	CourierDelivery bool             `json:"courierDelivery,omitempty"`
	DeliveryName    string           `json:"deliveryName,omitempty"`
	DeliveryAddress *DeliveryAddress `json:"deliveryAddress,omitempty"`
	Email           string           `json:"emailAddress,omitempty"`
}

type DeliveryAddress struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	Suburb   string `json:"suburb,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// PaymentResult is the normalized gateway settlement detail attached to
// the payload once the webhook reconciles.
type PaymentResult struct {
	TxnReference   string `json:"txnReference"`
	AuthCode       string `json:"authCode,omitempty"`
	CardName       string `json:"cardName,omitempty"`
	CardNumber     string `json:"cardNumber,omitempty"`
	CardHolderName string `json:"cardHolderName,omitempty"`
	AmountSettled  string `json:"amountSettled,omitempty"`
	DateSettled    string `json:"dateSettled,omitempty"`
	Success        bool   `json:"success"`
	ResponseText   string `json:"responseText,omitempty"`
}

// Application is the persisted, payment-deferred submission. Rows exist
// only while a certificate order is awaiting reconciliation; the child
// name fields are denormalized from the payload for the duplicate check.
type Application struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	ReferenceCode     string         `json:"reference_code" gorm:"size:32;uniqueIndex;not null"`
	SubmittedAt       time.Time      `json:"submitted_at" gorm:"index;not null"`
	Payload           datatypes.JSON `json:"payload" gorm:"not null"`
	Processed         bool           `json:"processed" gorm:"not null;default:false"`
	RegistryRejected  bool           `json:"registry_rejected" gorm:"not null;default:false"`
	ConfirmURLSuccess string         `json:"confirm_url_success" gorm:"size:512"`
	ConfirmURLFail    string         `json:"confirm_url_fail" gorm:"size:512"`
	ChildFirstNames   string         `json:"child_first_names" gorm:"size:128;index:idx_applications_child"`
	ChildSurname      string         `json:"child_surname" gorm:"size:128;index:idx_applications_child"`
	ChildBirthDate    string         `json:"child_birth_date" gorm:"size:16;index:idx_applications_child"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Application) TableName() string {
	return "applications"
}

// Submission decodes the stored payload.
func (a *Application) Submission() (*Submission, error) {
	var sub Submission
	if err := json.Unmarshal(a.Payload, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// SetSubmission re-encodes the payload and refreshes the denormalized
// child fields.
func (a *Application) SetSubmission(sub *Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	a.Payload = datatypes.JSON(raw)
	a.ChildFirstNames = sub.Child.FirstNames
	a.ChildSurname = sub.Child.Surname
	a.ChildBirthDate = sub.Child.BirthDate
	return nil
}
