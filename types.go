package domainbay

import (
	"time"
)

const (
	SortAscending  string = "ASC"
	SortDescending string = "DESC"
)

// Page is a bounded slice of a server-ordered result set.
type Page[T any] struct {
	Items           []T  `json:"items"`
	CurrentPage     int  `json:"currentPage"`
	PageSize        int  `json:"pageSize"`
	TotalCount      int  `json:"totalCount"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// NewPage builds an envelope whose paging flags are derived from totalCount
// rather than echoed from the backend.
func NewPage[T any](items []T, currentPage, pageSize, totalCount int) Page[T] {
	if currentPage < 1 {
		currentPage = 1
	}
	if totalCount < 0 {
		totalCount = 0
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = (totalCount + pageSize - 1) / pageSize
	}

	if pageSize > 0 && len(items) > pageSize {
		items = items[:pageSize]
	}
	if items == nil {
		items = []T{}
	}

	return Page[T]{
		Items:           items,
		CurrentPage:     currentPage,
		PageSize:        pageSize,
		TotalCount:      totalCount,
		TotalPages:      totalPages,
		HasNextPage:     currentPage < totalPages,
		HasPreviousPage: currentPage > 1,
	}
}

func EmptyPage[T any]() Page[T] {
	return Page[T]{
		Items:       []T{},
		CurrentPage: 1,
	}
}

type DomainRecord struct {
	Name        string         `json:"name"`
	Owner       string         `json:"owner,omitempty"`
	ClaimedBy   string         `json:"claimedBy,omitempty"`
	Registrar   string         `json:"registrar,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	TokenizedAt *time.Time     `json:"tokenizedAt,omitempty"`
	Tokenized   bool           `json:"tokenized"`
	Tokens      []Token        `json:"tokens,omitempty"`
	Activities  []NameActivity `json:"activities,omitempty"`
}

func (r DomainRecord) Key() string {
	return r.Name
}

type Token struct {
	TokenID      string     `json:"tokenId"`
	OwnerAddress string     `json:"ownerAddress"`
	NetworkID    string     `json:"networkId"`
	ChainName    string     `json:"chainName,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Listings     []Listing  `json:"listings,omitempty"`
}

type Listing struct {
	ExternalID string     `json:"externalId"`
	Price      string     `json:"price"`
	Currency   Currency   `json:"currency"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type NameActivity struct {
	Type      string    `json:"type"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Currency struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Offer is append/expire only; a refetch replaces the whole set.
type Offer struct {
	ExternalID     string    `json:"externalId"`
	TokenID        string    `json:"tokenId"`
	Price          string    `json:"price"`
	Currency       Currency  `json:"currency"`
	OffererAddress string    `json:"offererAddress"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (o Offer) Key() string {
	return o.ExternalID
}

type TokenStats struct {
	TokenID      string  `json:"tokenId"`
	ActiveOffers int     `json:"activeOffers"`
	HighestOffer *Offer  `json:"highestOffer,omitempty"`
	LastSale     *string `json:"lastSale,omitempty"`
}

type ConversationState string

const (
	ConversationDiscovered ConversationState = "discovered"
	ConversationActive     ConversationState = "active"
	ConversationClosed     ConversationState = "closed"
)

type ConversationMetadata struct {
	LastMessage     string    `json:"lastMessage"`
	LastMessageID   string    `json:"lastMessageId,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
	IsTyping        bool      `json:"isTyping"`
}

type Conversation struct {
	ID          string               `json:"id"`
	PeerAddress string               `json:"peerAddress"`
	Members     []string             `json:"members"`
	State       ConversationState    `json:"state"`
	Metadata    ConversationMetadata `json:"metadata"`
}

// RemoteConversation is the backend's view of a conversation before projection.
type RemoteConversation struct {
	ID          string    `json:"id"`
	Members     []string  `json:"members"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	IsTyping       bool   `json:"isTyping"`
}

type WatchEntry struct {
	DomainName  string    `json:"domainName"`
	UserAddress string    `json:"userAddress"`
	CreatedAt   time.Time `json:"createdAt"`
}
