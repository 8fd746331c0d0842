package connector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mkadit/iso8583/v2"
)

// Profile describes how one transaction type is carried on the wire.
type Profile struct {
	Name           string
	MTI            string
	ProcessingCode string
	// AmountRequired is false for types that move no money.
	AmountRequired bool
	// Required lists the data elements that must be present before the
	// request is sent.
	Required []int
}

var baseRequired = []int{
	iso8583.FieldProcessingCode,
	iso8583.FieldTransmissionDateTime,
	iso8583.FieldSTAN,
	iso8583.FieldLocalTime,
	iso8583.FieldLocalDate,
	iso8583.FieldPOSEntryMode,
	iso8583.FieldPOSConditionCode,
	iso8583.FieldTerminalID,
	iso8583.FieldCurrencyCode,
}

func withAmount(fields []int) []int {
	out := append([]int{iso8583.FieldAmount}, fields...)
	sort.Ints(out)
	return out
}

var profiles = map[string]Profile{
	"SALE": {
		Name: "SALE", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "000000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
	"CASH_WITHDRAWAL": {
		Name: "CASH_WITHDRAWAL", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "010000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
	"BALANCE_INQUIRY": {
		Name: "BALANCE_INQUIRY", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "310000",
		Required: baseRequired,
	},
	"REFUND": {
		Name: "REFUND", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "200000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
	"PRE_AUTH": {
		Name: "PRE_AUTH", MTI: iso8583.MTIAuthorizationRequest, ProcessingCode: "000000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
	"PRE_AUTH_COMPLETION": {
		Name: "PRE_AUTH_COMPLETION", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "000000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
	"CASH_ADVANCE": {
		Name: "CASH_ADVANCE", MTI: iso8583.MTIFinancialRequest, ProcessingCode: "010000",
		AmountRequired: true, Required: withAmount(baseRequired),
	},
}

var aliases = map[string]string{
	"":         "SALE",
	"PURCHASE": "SALE",
}

// LookupProfile resolves a transaction type name. An empty name is a sale.
func LookupProfile(name string) (Profile, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	p, ok := profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnsupportedTransaction, name)
	}
	return p, nil
}

// ProfileNames returns the supported transaction types.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles)+1)
	for name := range profiles {
		names = append(names, name)
	}
	names = append(names, "PURCHASE")
	sort.Strings(names)
	return names
}
