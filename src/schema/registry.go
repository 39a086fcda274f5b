package schema

import "sort"

// TablePayments and TableContracts are the two registered table names.
const (
	TablePayments  = "paymentinformation"
	TableContracts = "contractinfo"
)

// Fiscal period bounds accepted by range filters.
const (
	FiscalYearMin  = 2000
	FiscalYearMax  = 2100
	FiscalMonthMin = 1
	FiscalMonthMax = 12
)

var registry = map[string]*TableDescriptor{
	TablePayments: newTableDescriptor(TablePayments, "id", []ColumnDescriptor{
		{Name: "id", Type: TypeInteger, Sortable: true},
		{Name: "fiscal_year", Type: TypeInteger, Filterable: true, Sortable: true, Match: MatchRange, Min: FiscalYearMin, Max: FiscalYearMax},
		{Name: "fiscal_month", Type: TypeInteger, Filterable: true, Sortable: true, Match: MatchRange, Min: FiscalMonthMin, Max: FiscalMonthMax},
		{Name: "agency_number", Type: TypeInteger, Sortable: true},
		{Name: "agency_title", Type: TypeText, Filterable: true, Sortable: true, Match: MatchEnum},
		{Name: "appropriation_number", Type: TypeInteger},
		{Name: "appropriation_title", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "appropriation_year", Type: TypeInteger},
		{Name: "fund_number", Type: TypeInteger},
		{Name: "fund_title", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "object_number", Type: TypeInteger},
		{Name: "object_title", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "program_cost_account", Type: TypeText},
		{Name: "vendor_number", Type: TypeText},
		{Name: "vendor_name", Type: TypeText, Filterable: true, Sortable: true, Match: MatchSubstring},
		{Name: "mail_code", Type: TypeText},
		{Name: "amount_payed", Type: TypeDecimal, Sortable: true},
		{Name: "revision_indicator", Type: TypeText},
		{Name: "confidential", Type: TypeText},
	}),
	TableContracts: newTableDescriptor(TableContracts, "id", []ColumnDescriptor{
		{Name: "id", Type: TypeInteger, Sortable: true},
		{Name: "fiscal_year", Type: TypeInteger, Filterable: true, Sortable: true, Match: MatchRange, Min: FiscalYearMin, Max: FiscalYearMax},
		{Name: "agency_number", Type: TypeInteger},
		{Name: "agency_title", Type: TypeText, Filterable: true, Sortable: true, Match: MatchEnum},
		{Name: "contract_number", Type: TypeText},
		{Name: "vendor_number", Type: TypeText},
		{Name: "vendor_name", Type: TypeText, Filterable: true, Sortable: true, Match: MatchSubstring},
		{Name: "category", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "procurement_method", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "status", Type: TypeText, Filterable: true, Sortable: true, Match: MatchEnum},
		{Name: "subject", Type: TypeText, Filterable: true, Match: MatchEnum},
		{Name: "start_date", Type: TypeDate, Filterable: true, Sortable: true, Match: MatchRange},
		{Name: "end_date", Type: TypeDate, Sortable: true},
		{Name: "contract_value", Type: TypeDecimal, Filterable: true, Sortable: true, Match: MatchRange},
	}),
}

// Describe returns the descriptor of the named table.
// Unregistered names fail with UnknownTableError.
func Describe(table string) (*TableDescriptor, error) {
	desc, ok := registry[table]
	if !ok {
		return nil, &UnknownTableError{Table: table}
	}
	return desc, nil
}

// Tables returns the registered table names in stable order.
func Tables() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
