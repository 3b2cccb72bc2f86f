package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/futsalmandu/futsalmandu/internal/fault"
	"github.com/futsalmandu/futsalmandu/internal/loyalty"
	"github.com/futsalmandu/futsalmandu/internal/testutil"
)

func loyaltyTxn(userID string, kind loyalty.TxnType, points int64) loyalty.Transaction {
	return loyalty.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      kind,
		Points:    points,
		Reason:    "test",
		CreatedAt: time.Now().UTC(),
	}
}

func TestLoyaltyBalanceMatchesLog(t *testing.T) {
	database := testutil.NewTestDB(t)
	points := NewLoyaltyStore(database)
	ctx := context.Background()

	if err := points.Credit(ctx, loyaltyTxn("user-1", loyalty.TxnCredit, 100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := points.Credit(ctx, loyaltyTxn("user-1", loyalty.TxnCredit, 50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := points.Debit(ctx, loyaltyTxn("user-1", loyalty.TxnDebit, 30)); err != nil {
		t.Fatalf("debit: %v", err)
	}

	balance, err := points.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 120 {
		t.Errorf("balance = %d, want 120", balance)
	}

	txns, err := points.Transactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var sum int64
	for _, txn := range txns {
		if txn.Type == loyalty.TxnCredit {
			sum += txn.Points
		} else {
			sum -= txn.Points
		}
	}
	if sum != balance {
		t.Errorf("signed log sum = %d, balance = %d; they must agree", sum, balance)
	}
}

func TestLoyaltyMissingAccountReadsZero(t *testing.T) {
	database := testutil.NewTestDB(t)
	points := NewLoyaltyStore(database)

	balance, err := points.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestLoyaltyDebitInsufficientLeavesNoLog(t *testing.T) {
	database := testutil.NewTestDB(t)
	points := NewLoyaltyStore(database)
	ctx := context.Background()

	if err := points.Credit(ctx, loyaltyTxn("user-1", loyalty.TxnCredit, 20)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := points.Debit(ctx, loyaltyTxn("user-1", loyalty.TxnDebit, 50))
	if !fault.IsKind(err, fault.KindInsufficientPoints) {
		t.Fatalf("debit err = %v, want insufficient points", err)
	}

	balance, _ := points.Balance(ctx, "user-1")
	if balance != 20 {
		t.Errorf("balance = %d, want untouched 20", balance)
	}
	txns, _ := points.Transactions(ctx, "user-1")
	if len(txns) != 1 {
		t.Errorf("log has %d entries, want only the credit", len(txns))
	}
}

func TestLoyaltyConcurrentDebitsNeverOverspend(t *testing.T) {
	database := testutil.NewTestDB(t)
	points := NewLoyaltyStore(database)
	ctx := context.Background()

	if err := points.Credit(ctx, loyaltyTxn("user-1", loyalty.TxnCredit, 100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// 100 points fund at most 3 debits of 30.
	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = points.Debit(ctx, loyaltyTxn("user-1", loyalty.TxnDebit, 30))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes != 3 {
		t.Fatalf("successes = %d, want exactly 3", successes)
	}
	balance, _ := points.Balance(ctx, "user-1")
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}
}
