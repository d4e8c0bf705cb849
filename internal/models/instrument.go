package models

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

type BankAccountType string

const (
	PersonalChecking  BankAccountType = "PersonalChecking"
	PersonalSavings   BankAccountType = "PersonalSavings"
	CorporateChecking BankAccountType = "CorporateChecking"
	CorporateSavings  BankAccountType = "CorporateSavings"
)

type CreditCard struct {
	AccountHolder string `json:"account_holder"`
	CardNumber    string `json:"card_number"`
	Cvc           string `json:"cvc"`
	Month         int    `json:"month"`
	Year          int    `json:"year"`
}

type BankAccount struct {
	AccountHolder string          `json:"account_holder"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	AccountNumber string          `json:"account_number"`
	RoutingNumber string          `json:"routing_number"`
	AccountType   BankAccountType `json:"account_type"`
}

// Instrument is a card or a bank account; exactly one side is set.
type Instrument struct {
	Card *CreditCard  `json:"credit_card_information,omitempty"`
	Bank *BankAccount `json:"bank_account_information,omitempty"`
}

var routingRe = regexp.MustCompile(`^[0-9]{9}$`)

func (i Instrument) Validate() error {
	switch {
	case i.Card != nil && i.Bank != nil:
		return errors.New("only one payment instrument allowed")
	case i.Card != nil:
		return i.Card.Validate()
	case i.Bank != nil:
		return i.Bank.Validate()
	}
	return errors.New("payment instrument required")
}

func (c *CreditCard) Validate() error {
	num := strings.ReplaceAll(strings.ReplaceAll(c.CardNumber, " ", ""), "-", "")
	if len(num) < 13 || len(num) > 19 || !passesLuhn(num) {
		return errors.New("invalid card number")
	}
	if c.Month < 1 || c.Month > 12 {
		return errors.New("invalid expiration month")
	}
	return nil
}

func (b *BankAccount) Validate() error {
	if strings.TrimSpace(b.AccountNumber) == "" {
		return errors.New("account number required")
	}
	if !routingRe.MatchString(b.RoutingNumber) {
		return errors.New("invalid routing number")
	}
	return nil
}

// passesLuhn implements the standard Mod 10 check.
func passesLuhn(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(string(number[i]))
		if err != nil {
			return false
		}
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}
