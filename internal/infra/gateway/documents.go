package gateway

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/totegamma/domainbay/internal/domain"
)

const nameFields = `
fragment NameFields on Name {
  name
  claimedBy
  registrar
  expiresAt
  tokenizedAt
  tokens {
    tokenId
    ownerAddress
    networkId
    chainName
    expiresAt
    listings {
      externalId
      price
      expiresAt
      currency { symbol decimals }
    }
  }
  activities { type txHash createdAt }
}
`

const offerFields = `
fragment OfferFields on Offer {
  externalId
  tokenId
  price
  offererAddress
  expiresAt
  createdAt
  currency { symbol decimals }
}
`

var (
	namesDocument = mustParse("Names", `
query Names($page: Int!, $take: Int!, $listed: Boolean, $tlds: [String!], $name: String, $status: String, $sortOrder: SortOrderType, $ownedBy: [String!]) {
  names(page: $page, take: $take, listed: $listed, tlds: $tlds, name: $name, status: $status, sortOrder: $sortOrder, ownedBy: $ownedBy) {
    items { ...NameFields }
    totalCount
  }
}
`+nameFields)

	nameDocument = mustParse("Name", `
query Name($name: String!) {
  name(name: $name) { ...NameFields }
}
`+nameFields)

	tokenStatsDocument = mustParse("OffersStats", `
query OffersStats($tokenId: String!) {
  offersStats(tokenId: $tokenId) {
    tokenId
    activeOffers
    lastSale
    highestOffer { ...OfferFields }
  }
}
`+offerFields)

	offersDocument = mustParse("Offers", `
query Offers($tokenId: String!, $page: Int!, $take: Int!, $status: String, $sortOrder: SortOrderType) {
  offers(tokenId: $tokenId, page: $page, take: $take, status: $status, sortOrder: $sortOrder) {
    items { ...OfferFields }
    totalCount
  }
}
`+offerFields)
)

// document is a parsed GraphQL operation and the variables it declares.
type document struct {
	operation string
	source    string
	variables map[string]bool // name -> non-null
}

func mustParse(name, source string) *document {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: source})
	if err != nil {
		panic(fmt.Sprintf("invalid graphql document %s: %v", name, err))
	}
	if len(doc.Operations) != 1 {
		panic(fmt.Sprintf("graphql document %s must contain exactly one operation", name))
	}

	op := doc.Operations[0]
	vars := make(map[string]bool, len(op.VariableDefinitions))
	for _, v := range op.VariableDefinitions {
		vars[v.Variable] = v.Type != nil && v.Type.NonNull
	}

	return &document{
		operation: op.Name,
		source:    source,
		variables: vars,
	}
}

type graphqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type graphqlResponse[T any] struct {
	Data   T             `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// request drops nil and undeclared variables and rejects missing non-null ones
// before anything reaches the network.
func (d *document) request(vars map[string]any) (graphqlRequest, error) {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if _, declared := d.variables[k]; !declared {
			continue
		}
		if isNil(v) {
			continue
		}
		out[k] = v
	}

	for k, nonNull := range d.variables {
		if !nonNull {
			continue
		}
		if _, ok := out[k]; !ok {
			return graphqlRequest{}, domain.ValidationError{Field: k, Message: "required"}
		}
	}

	return graphqlRequest{
		OperationName: d.operation,
		Query:         d.source,
		Variables:     out,
	}, nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *bool:
		return t == nil
	case []string:
		return t == nil
	case string:
		return t == ""
	}
	return false
}
