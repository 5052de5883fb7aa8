// Package model содержит доменные сущности биржи заданий для тестировщиков.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerKind описывает тип владельца кошелька.
type OwnerKind string

const (
	OwnerKindTester  OwnerKind = "tester"
	OwnerKindCreator OwnerKind = "creator"
	OwnerKindSystem  OwnerKind = "system"
)

// Valid сообщает, является ли значение известным типом владельца.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerKindTester, OwnerKindCreator, OwnerKindSystem:
		return true
	}
	return false
}

// Wallet представляет кошелёк тестировщика, заказчика или системы.
// OwnerID пуст только у системного кошелька.
type Wallet struct {
	ID        uuid.UUID
	OwnerID   *uuid.UUID
	OwnerKind OwnerKind
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Direction описывает направление движения средств.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// TransactionStatus описывает статус записи журнала операций.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction — неизменяемая запись журнала движения средств.
type Transaction struct {
	ID            uuid.UUID
	WalletID      uuid.UUID
	OwnerID       *uuid.UUID
	Direction     Direction
	Amount        decimal.Decimal
	RelatedTaskID *uuid.UUID
	Status        TransactionStatus
	CreatedAt     time.Time
}

// Tester — профиль исполнителя заданий.
type Tester struct {
	ID        uuid.UUID
	Name      string
	Age       int
	Gender    Gender
	Country   string
	CreatedAt time.Time
}

// Creator — профиль заказчика, публикующего задания.
type Creator struct {
	ID        uuid.UUID
	Name      string
	Company   string
	CreatedAt time.Time
}

// HistoryStatus — статус участия тестировщика в задании.
type HistoryStatus string

const (
	HistoryApplied          HistoryStatus = "applied"
	HistoryPending          HistoryStatus = "pending"
	HistoryRejected         HistoryStatus = "rejected"
	HistorySuccess          HistoryStatus = "success"
	HistoryInReview         HistoryStatus = "inreview"
	HistoryResponseRejected HistoryStatus = "response-rejected"
)

// HistoryEntry — запись истории заданий тестировщика, одна на пару (тестировщик, задание).
type HistoryEntry struct {
	TesterID  uuid.UUID
	TaskID    uuid.UUID
	Status    HistoryStatus
	UpdatedAt time.Time
}

// Outcome описывает бизнес-результат операции: принят или отклонён с пояснением.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Accept возвращает положительный результат.
func Accept() Outcome {
	return Outcome{Accepted: true}
}

// Decline возвращает отказ с сообщением.
func Decline(msg string) Outcome {
	return Outcome{Message: msg}
}

// DebitResult — результат списания со счёта владельца.
type DebitResult struct {
	Outcome
	Wallet       *Wallet
	SystemWallet *Wallet
}

// CreditResult — результат зачисления на счёт владельца.
type CreditResult struct {
	Outcome
	Wallet *Wallet
}

// Rates — тарифная сетка вознаграждений.
type Rates struct {
	AppPerTester         decimal.Decimal
	SurveyPerQuestion    decimal.Decimal
	YoutubePerThumbnail  decimal.Decimal
	MarketingPlatformFee decimal.Decimal
}
