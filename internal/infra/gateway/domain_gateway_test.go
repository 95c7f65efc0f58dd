package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/domain"
)

type capturedRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

func newGraphQLServer(t *testing.T, calls *atomic.Int32, respond func(req capturedRequest) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respond(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func namesPayload(n, total int) map[string]any {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"name": fmt.Sprintf("Name%d.com", i),
			"tokens": []map[string]any{{
				"tokenId":      fmt.Sprintf("%d", i),
				"ownerAddress": "0x52908400098527886e0f7030069857d2e4169ee7",
				"networkId":    "eip155:1",
			}},
		})
	}
	return map[string]any{
		"data": map[string]any{
			"names": map[string]any{"items": items, "totalCount": total},
		},
	}
}

func TestFetchNamesEndToEnd(t *testing.T) {
	var got capturedRequest
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		got = req
		return namesPayload(20, 45)
	})

	g := NewDomainGateway(client.New(), srv.URL)
	listed := true
	page, err := g.FetchNames(context.Background(), domain.NameQuery{
		Page:     1,
		PageSize: 20,
		Listed:   &listed,
		TLDs:     []string{"com"},
		Name:     "",
	})
	require.NoError(t, err)

	assert.Equal(t, "Names", got.OperationName)
	assert.Equal(t, float64(1), got.Variables["page"])
	assert.Equal(t, float64(20), got.Variables["take"])
	assert.Equal(t, true, got.Variables["listed"])
	assert.Equal(t, []any{"com"}, got.Variables["tlds"])
	assert.NotContains(t, got.Variables, "ownedBy")

	assert.Len(t, page.Items, 20)
	assert.Equal(t, 45, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNextPage)
	assert.False(t, page.HasPreviousPage)
	assert.Equal(t, "name0.com", page.Items[0].Name)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", page.Items[0].Owner)
}

func TestFetchNamesValidationSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := newGraphQLServer(t, &calls, func(req capturedRequest) any { return namesPayload(0, 0) })
	g := NewDomainGateway(client.New(), srv.URL)

	cases := map[string]domain.NameQuery{
		"page":  {Page: 0, PageSize: 20},
		"take":  {Page: 1, PageSize: 0},
		"sort":  {Page: 1, PageSize: 20, SortOrder: "sideways"},
		"limit": {Page: 1, PageSize: 500},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.FetchNames(context.Background(), q)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
			assert.True(t, domain.IsGatewayError(err))
		})
	}

	_, err := g.FetchNamesByOwner(context.Background(), "not-an-address", domain.NameQuery{Page: 1, PageSize: 20})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = g.FetchOffers(context.Background(), domain.OfferQuery{Page: 1, PageSize: 20})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	for _, tokenID := range []string{"", "   "} {
		_, err = g.FetchTokenStats(context.Background(), tokenID)
		assert.True(t, errors.Is(err, domain.ErrValidation), "token %q: %v", tokenID, err)
		assert.True(t, domain.IsGatewayError(err))
	}

	assert.Equal(t, int32(0), calls.Load())
}

func TestFetchNamesByOwnerSendsChecksumAddress(t *testing.T) {
	var got capturedRequest
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		got = req
		return namesPayload(1, 1)
	})
	g := NewDomainGateway(client.New(), srv.URL)

	page, err := g.FetchNamesByOwner(context.Background(), "0x52908400098527886e0f7030069857d2e4169ee7", domain.NameQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []any{"0x52908400098527886E0F7030069857D2E4169EE7"}, got.Variables["ownedBy"])
	assert.Equal(t, 1, page.TotalPages)
	assert.False(t, page.HasNextPage)
}

func TestFetchNameNotFound(t *testing.T) {
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		return map[string]any{"data": map[string]any{"name": nil}}
	})
	g := NewDomainGateway(client.New(), srv.URL)

	record, err := g.FetchName(context.Background(), "missing.com")
	assert.Nil(t, record)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGraphQLErrorsAreBackendErrors(t *testing.T) {
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		return map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "offers unavailable"}},
		}
	})
	g := NewDomainGateway(client.New(), srv.URL)

	_, err := g.FetchOffers(context.Background(), domain.OfferQuery{TokenID: "1", Page: 1, PageSize: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackend))
	assert.False(t, domain.Retryable(err))
	assert.Contains(t, err.Error(), "offers unavailable")
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewDomainGateway(client.New(), srv.URL, WithTimeout(20*time.Millisecond))
	_, err := g.FetchNames(context.Background(), domain.NameQuery{Page: 1, PageSize: 20})

	var gw *domain.GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, "FetchNames", gw.Op)
	assert.True(t, domain.Retryable(err))
}

func TestFetchOffersPage(t *testing.T) {
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		return map[string]any{
			"data": map[string]any{
				"offers": map[string]any{
					"items": []map[string]any{
						{"externalId": "o1", "tokenId": "7", "price": "1000", "currency": map[string]any{"symbol": "USDC", "decimals": 6}},
						{"externalId": "o2", "tokenId": "7", "price": "900", "currency": map[string]any{"symbol": "USDC", "decimals": 6}},
					},
					"totalCount": 4,
				},
			},
		}
	})
	g := NewDomainGateway(client.New(), srv.URL)

	page, err := g.FetchOffers(context.Background(), domain.OfferQuery{TokenID: "7", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	assert.False(t, page.HasNextPage)
	assert.True(t, page.HasPreviousPage)
	assert.Equal(t, "o1", page.Items[0].Key())
	assert.Equal(t, 6, page.Items[0].Currency.Decimals)
}

func TestFetchTokenStats(t *testing.T) {
	srv := newGraphQLServer(t, nil, func(req capturedRequest) any {
		return map[string]any{
			"data": map[string]any{
				"offersStats": map[string]any{
					"activeOffers": 3,
					"highestOffer": map[string]any{"externalId": "o9", "price": "5"},
				},
			},
		}
	})
	g := NewDomainGateway(client.New(), srv.URL)

	stats, err := g.FetchTokenStats(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", stats.TokenID)
	assert.Equal(t, 3, stats.ActiveOffers)
	require.NotNil(t, stats.HighestOffer)
	assert.Equal(t, "o9", stats.HighestOffer.ExternalID)
}

func TestDocumentsDeclareVariables(t *testing.T) {
	assert.Equal(t, "Names", namesDocument.operation)
	assert.True(t, namesDocument.variables["page"])
	assert.False(t, namesDocument.variables["listed"])
	assert.True(t, offersDocument.variables["tokenId"])
	assert.True(t, nameDocument.variables["name"])
}
