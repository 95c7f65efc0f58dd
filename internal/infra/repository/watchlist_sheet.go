package repository

import (
	"context"
	"net/url"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/usecase"
)

// SheetWatchlistStore talks to the spreadsheet-backed watchlist web app.
// Every call names its operation in the action query param.
type SheetWatchlistStore struct {
	client   *client.Client
	endpoint string
}

func NewSheetWatchlistStore(cl *client.Client, endpoint string) *SheetWatchlistStore {
	return &SheetWatchlistStore{client: cl, endpoint: endpoint}
}

var _ usecase.WatchlistStore = (*SheetWatchlistStore)(nil)

type sheetResponse struct {
	Success  bool                   `json:"success"`
	Error    string                 `json:"error,omitempty"`
	Entries  []domainbay.WatchEntry `json:"entries,omitempty"`
	Watching bool                   `json:"watching,omitempty"`
}

func (r *SheetWatchlistStore) actionURL(action string) string {
	return r.endpoint + "?" + url.Values{"action": {action}}.Encode()
}

func (r *SheetWatchlistStore) write(ctx context.Context, action, name, user string) error {
	body := domainbay.WatchEntry{
		DomainName:  name,
		UserAddress: user,
	}

	var res sheetResponse
	if err := r.client.PostJSON(ctx, r.actionURL(action), body, &res); err != nil {
		return err
	}
	if !res.Success {
		return domain.BackendError{Op: "watchlist " + action, Message: res.Error}
	}
	return nil
}

func (r *SheetWatchlistStore) Add(ctx context.Context, name, user string) error {
	return r.write(ctx, "add", name, user)
}

func (r *SheetWatchlistStore) Remove(ctx context.Context, name, user string) error {
	return r.write(ctx, "remove", name, user)
}

func (r *SheetWatchlistStore) List(ctx context.Context, user string) ([]string, error) {
	query := url.Values{
		"action":      {"list"},
		"userAddress": {user},
	}

	var res sheetResponse
	if err := r.client.GetJSON(ctx, r.endpoint, query, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, domain.BackendError{Op: "watchlist list", Message: res.Error}
	}

	names := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		names = append(names, e.DomainName)
	}
	return names, nil
}

func (r *SheetWatchlistStore) IsWatching(ctx context.Context, name, user string) (bool, error) {
	query := url.Values{
		"action":      {"check"},
		"domainName":  {name},
		"userAddress": {user},
	}

	var res sheetResponse
	if err := r.client.GetJSON(ctx, r.endpoint, query, &res); err != nil {
		return false, err
	}
	if !res.Success {
		return false, domain.BackendError{Op: "watchlist check", Message: res.Error}
	}
	return res.Watching, nil
}
