// README: Common money value object used across modules.
package types

// DefaultCurrency is applied to fares that arrive without a currency.
const DefaultCurrency = "TWD"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func TWD(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

// Add sums two amounts. The receiver's currency wins; mixed currencies are not converted.
func (m Money) Add(o Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	if cur == "" {
		cur = DefaultCurrency
	}
	return Money{Amount: m.Amount + o.Amount, Currency: cur}
}

func (m Money) Normalize() Money {
	if m.Currency == "" {
		m.Currency = DefaultCurrency
	}
	return m
}
