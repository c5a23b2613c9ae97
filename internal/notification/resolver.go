package notification

import (
	"context"

	"github.com/nao1215/friendpush/internal/graph"
)

// Recipient は通知の受信者。
type Recipient struct {
	// UserID は受信者のユーザーID。
	UserID string
}

// Resolver は投稿者の承認済みの友達を受信者として解決する。
type Resolver struct {
	connections graph.ConnectionStore
}

// NewResolver は新しいResolverを生成する。
func NewResolver(connections graph.ConnectionStore) *Resolver {
	return &Resolver{connections: connections}
}

// Resolve はauthorIDの承認済みの友達を重複なく返す。
// 友達がいない場合はエラーではなく空のスライスを返す。
func (r *Resolver) Resolve(ctx context.Context, authorID string) ([]Recipient, error) {
	conns, err := r.connections.AcceptedConnections(ctx, authorID)
	if err != nil {
		return nil, &LookupError{Stage: StageResolve, Err: err}
	}

	seen := make(map[string]struct{}, len(conns))
	recipients := make([]Recipient, 0, len(conns))
	for _, c := range conns {
		other, ok := canonical(authorID, c)
		if !ok {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		recipients = append(recipients, Recipient{UserID: other})
	}
	return recipients, nil
}

// canonical は関係を(author, other)の組に正規化し、otherを返す。
// 承認済みでない関係、authorを含まない関係、自己ループ、空のIDは除外する。
func canonical(authorID string, c graph.Connection) (string, bool) {
	if c.Status != graph.StatusAccepted || authorID == "" {
		return "", false
	}
	other, ok := c.Other(authorID)
	if !ok || other == "" || other == authorID {
		return "", false
	}
	return other, true
}
