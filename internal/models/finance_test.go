package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionEffect(t *testing.T) {
	income := &Transaction{Type: TransactionIncome, AmountUAH: decimal.RequireFromString("120.50")}
	expense := &Transaction{Type: TransactionExpense, AmountUAH: decimal.RequireFromString("20.25")}

	assert.True(t, income.Effect().Equal(decimal.RequireFromString("120.50")))
	assert.True(t, expense.Effect().Equal(decimal.RequireFromString("-20.25")))
}

func TestCurrencyToUAH(t *testing.T) {
	usd := &Currency{Code: "USD", RateToUAH: decimal.RequireFromString("41.5")}
	uah := &Currency{Code: "UAH", RateToUAH: decimal.RequireFromString("2")}
	var none *Currency

	assert.Equal(t, "83", usd.ToUAH(decimal.NewFromInt(2)).String())
	assert.Equal(t, "10", uah.ToUAH(decimal.NewFromInt(10)).String())
	assert.Equal(t, "10", none.ToUAH(decimal.NewFromInt(10)).String())
}

func TestListItem(t *testing.T) {
	tx := &Transaction{ID: 7, Type: TransactionExpense, Amount: decimal.NewFromInt(5), Title: "Coffee",
		Category: &Category{Name: "Food"}}

	item := tx.ListItem()
	assert.Equal(t, "Food", item.CategoryName)
	assert.Equal(t, "Витрата", item.TypeDisplay)
	assert.True(t, ValidTransactionType("income"))
	assert.False(t, ValidTransactionType("transfer"))
}
