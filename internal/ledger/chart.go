package ledger

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed chart.yaml
var defaultChartYAML []byte

// Account keys understood by the posting components.
const (
	AccountCash       = "cash"
	AccountBank       = "bank"
	AccountReceivable = "accounts_receivable"
	AccountPayable    = "accounts_payable"
	AccountSSTOutput  = "sst_output"
	AccountSSTInput   = "sst_input"
	AccountRevenue    = "revenue"
	AccountExpense    = "expense"
)

// ErrAccountNotMapped indicates a chart key without an account.
var ErrAccountNotMapped = errors.New("ledger: account mapping not found")

// Account is a resolved chart node.
type Account struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type expenseCategory struct {
	Match []string `yaml:"match"`
	Code  string   `yaml:"code"`
	Name  string   `yaml:"name"`
}

// Chart maps posting keys to account codes.
type Chart struct {
	Accounts          map[string]Account `yaml:"accounts"`
	ExpenseCategories []expenseCategory  `yaml:"expense_categories"`
	TaxCode           string             `yaml:"tax_code"`
}

// DefaultChart returns the embedded chart of accounts.
func DefaultChart() *Chart {
	chart, err := ParseChart(defaultChartYAML)
	if err != nil {
		panic(fmt.Sprintf("ledger: embedded chart invalid: %v", err))
	}
	return chart
}

// LoadChart reads a chart from path, falling back to the embedded default when path is empty.
func LoadChart(path string) (*Chart, error) {
	if path == "" {
		return DefaultChart(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read chart: %w", err)
	}
	return ParseChart(data)
}

// ParseChart decodes and validates a YAML chart.
func ParseChart(data []byte) (*Chart, error) {
	var chart Chart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return nil, fmt.Errorf("ledger: parse chart: %w", err)
	}
	for _, key := range []string{AccountCash, AccountReceivable, AccountSSTOutput, AccountRevenue} {
		if _, err := chart.Account(key); err != nil {
			return nil, err
		}
	}
	if chart.TaxCode == "" {
		chart.TaxCode = "SST"
	}
	return &chart, nil
}

// Account resolves a chart key.
func (c *Chart) Account(key string) (Account, error) {
	if c == nil {
		return Account{}, ErrAccountNotMapped
	}
	acct, ok := c.Accounts[key]
	if !ok || acct.Code == "" {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotMapped, key)
	}
	return acct, nil
}

// MustAccount resolves a key validated by ParseChart.
func (c *Chart) MustAccount(key string) Account {
	acct, err := c.Account(key)
	if err != nil {
		panic(err)
	}
	return acct
}

// ExpenseAccount picks the expense account for a free-text receipt category.
func (c *Chart) ExpenseAccount(category string) Account {
	fallback, err := c.Account(AccountExpense)
	if err != nil {
		fallback = Account{Code: "6000", Name: "Expense"}
	}
	needle := strings.ToLower(strings.TrimSpace(category))
	if needle == "" {
		return fallback
	}
	for _, cat := range c.ExpenseCategories {
		for _, m := range cat.Match {
			if strings.Contains(needle, strings.ToLower(m)) {
				return Account{Code: cat.Code, Name: cat.Name}
			}
		}
	}
	return fallback
}
