package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAlreadyCharged      = errors.New("task already charged")
)

func GetWallet(ctx context.Context, txn *gorm.DB, userId uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	if err := txn.WithContext(ctx).First(&wallet, "user_id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("error loading wallet for user %s: %w", userId, err)
	}
	return &wallet, nil
}

// LockWallet reads the wallet with a row lock held until txn ends. Dialects
// without row locks (sqlite) drop the FOR UPDATE clause and rely on their
// single-writer transactions instead.
func LockWallet(ctx context.Context, txn *gorm.DB, userId uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	err := txn.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&wallet, "user_id = ?", userId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("error locking wallet for user %s: %w", userId, err)
	}
	return &wallet, nil
}

// Credit adds amount to the wallet and records the credit entry. It must run
// inside a transaction so both writes commit together.
func Credit(ctx context.Context, txn *gorm.DB, wallet *Wallet, amount decimal.Decimal, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if err := txn.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ?", wallet.Id).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		return nil, fmt.Errorf("error crediting wallet %s: %w", wallet.Id, err)
	}

	entry := &Transaction{
		Id:              uuid.New(),
		WalletId:        wallet.Id,
		UserId:          uuid.NullUUID{UUID: wallet.UserId, Valid: true},
		TransactionType: TransactionCredit,
		Amount:          amount,
		Description:     description,
		Timestamp:       time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("error recording credit for wallet %s: %w", wallet.Id, err)
	}

	wallet.Balance = wallet.Balance.Add(amount)
	return entry, nil
}

// Debit charges amount for taskId. The balance check and decrement are a
// single conditional update, so concurrent debits can never drive the balance
// negative. A second debit for the same task fails with ErrAlreadyCharged.
func Debit(ctx context.Context, txn *gorm.DB, wallet *Wallet, amount decimal.Decimal, taskId uuid.UUID, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var charged int64
	if err := txn.WithContext(ctx).
		Model(&Transaction{}).
		Where("ml_task_id = ? AND transaction_type = ?", taskId, TransactionDebit).
		Count(&charged).Error; err != nil {
		return nil, fmt.Errorf("error checking existing charge for task %s: %w", taskId, err)
	}
	if charged > 0 {
		return nil, ErrAlreadyCharged
	}

	result := txn.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ? AND balance >= ?", wallet.Id, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return nil, fmt.Errorf("error debiting wallet %s: %w", wallet.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	entry := &Transaction{
		Id:              uuid.New(),
		WalletId:        wallet.Id,
		UserId:          uuid.NullUUID{UUID: wallet.UserId, Valid: true},
		MlTaskId:        uuid.NullUUID{UUID: taskId, Valid: true},
		TransactionType: TransactionDebit,
		Amount:          amount,
		Description:     description,
		Timestamp:       time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyCharged
		}
		return nil, fmt.Errorf("error recording debit for task %s: %w", taskId, err)
	}

	wallet.Balance = wallet.Balance.Sub(amount)
	return entry, nil
}

func ListTransactions(ctx context.Context, db *gorm.DB, userId uuid.UUID, limit, offset int) ([]Transaction, error) {
	var entries []Transaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("error listing transactions for user %s: %w", userId, err)
	}
	return entries, nil
}
