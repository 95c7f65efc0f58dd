package domain

import (
	"strings"

	"github.com/totegamma/domainbay"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NameQuery filters a listing of domain records.
type NameQuery struct {
	Page      int      `json:"page" query:"page"`
	PageSize  int      `json:"take" query:"take"`
	Listed    *bool    `json:"listed,omitempty" query:"listed"`
	TLDs      []string `json:"tlds,omitempty" query:"tlds"`
	Name      string   `json:"name" query:"name"`
	Status    string   `json:"status,omitempty" query:"status"`
	SortOrder string   `json:"sortOrder,omitempty" query:"sortOrder"`
}

// WithDefaults fills a zero page and page size.
func (q NameQuery) WithDefaults() NameQuery {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	q.SortOrder = strings.ToUpper(q.SortOrder)
	return q
}

func (q NameQuery) Validate() error {
	if err := validatePaging(q.Page, q.PageSize); err != nil {
		return err
	}
	return validateSort(q.SortOrder)
}

// OfferQuery filters the offers placed on a single token.
type OfferQuery struct {
	TokenID   string `json:"tokenId" query:"tokenId"`
	Page      int    `json:"page" query:"page"`
	PageSize  int    `json:"take" query:"take"`
	Status    string `json:"status,omitempty" query:"status"`
	SortOrder string `json:"sortOrder,omitempty" query:"sortOrder"`
}

func (q OfferQuery) WithDefaults() OfferQuery {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	q.SortOrder = strings.ToUpper(q.SortOrder)
	return q
}

func (q OfferQuery) Validate() error {
	if strings.TrimSpace(q.TokenID) == "" {
		return ValidationError{Field: "tokenId", Message: "required"}
	}
	if err := validatePaging(q.Page, q.PageSize); err != nil {
		return err
	}
	return validateSort(q.SortOrder)
}

func ValidateOwner(owner string) error {
	if owner == "" {
		return ValidationError{Field: "owner", Message: "required"}
	}
	if !domainbay.IsAddress(owner) {
		return ValidationError{Field: "owner", Message: "not a valid address: " + owner}
	}
	return nil
}

func ValidateName(name string) error {
	if !domainbay.IsDomainName(name) {
		return ValidationError{Field: "name", Message: "not a valid domain name: " + name}
	}
	return nil
}

func validatePaging(page, pageSize int) error {
	if page < 1 {
		return ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if pageSize <= 0 {
		return ValidationError{Field: "take", Message: "must be positive"}
	}
	if pageSize > MaxPageSize {
		return ValidationError{Field: "take", Message: "must not exceed 100"}
	}
	return nil
}

func validateSort(order string) error {
	switch order {
	case "", domainbay.SortAscending, domainbay.SortDescending:
		return nil
	}
	return ValidationError{Field: "sortOrder", Message: "must be ASC or DESC"}
}
