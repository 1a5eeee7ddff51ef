package broadcast

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/plantlink/garden-relay-go/internal/errors"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/transport"
)

// Event types fanned out to garden members.
const (
	EventPlantAdded      = "PLANT_ADDED"
	EventPlantDeleted    = "PLANT_DELETED"
	EventMoistureUpdated = "MOISTURE_UPDATED"
	EventMemberAdded     = "MEMBER_ADDED"
	EventMemberLeft      = "MEMBER_LEFT"
	EventGardenDeleted   = "GARDEN_DELETED"
)

// MembershipResolver lists the identities currently in a group. Membership
// is owned by storage; the broadcaster never caches it.
type MembershipResolver interface {
	MemberIdentities(ctx context.Context, groupID string) ([]string, error)
}

// ConnectionLookup resolves an identity to its current live connection.
type ConnectionLookup interface {
	ConnectionOf(identity string) (transport.Conn, bool)
}

type Broadcaster struct {
	members MembershipResolver
	conns   ConnectionLookup
}

func NewBroadcaster(members MembershipResolver, conns ConnectionLookup) *Broadcaster {
	return &Broadcaster{
		members: members,
		conns:   conns,
	}
}

// Notify pushes an event to every online member of groupID except
// excludeIdentity. Offline members are skipped. The only error is a failed
// membership lookup, in which case nothing is delivered.
func (b *Broadcaster) Notify(ctx context.Context, groupID, msgType string, payload any, excludeIdentity string) (int, error) {
	identities, err := b.members.MemberIdentities(ctx, groupID)
	if err != nil {
		log.Error().
			Err(err).
			Str("groupId", groupID).
			Str("type", msgType).
			Msg("membership lookup failed, fan-out abandoned")
		return 0, apperrors.MembershipResolution(groupID, err)
	}

	return b.Deliver(identities, groupID, msgType, payload, excludeIdentity), nil
}

// NotifyBestEffort runs Notify and only logs its outcome. Handlers call it after
// committing a change; fan-out failure never fails the change itself.
func (b *Broadcaster) NotifyBestEffort(ctx context.Context, groupID, msgType string, payload any, excludeIdentity string) {
	delivered, err := b.Notify(ctx, groupID, msgType, payload, excludeIdentity)
	if err != nil {
		return
	}
	log.Debug().
		Str("groupId", groupID).
		Str("type", msgType).
		Int("delivered", delivered).
		Msg("group notified")
}

// Deliver fans out to an already resolved member list, e.g. a snapshot taken
// before the group itself was deleted. Each open connection receives the
// message at most once.
func (b *Broadcaster) Deliver(identities []string, groupID, msgType string, payload any, excludeIdentity string) int {
	msg, err := transport.NewMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to build fan-out message")
		return 0
	}

	exclude := session.NormalizeIdentity(excludeIdentity)
	seen := make(map[string]struct{}, len(identities))
	delivered := 0

	for _, identity := range identities {
		identity = session.NormalizeIdentity(identity)
		if identity == "" || (exclude != "" && identity == exclude) {
			continue
		}

		conn, ok := b.conns.ConnectionOf(identity)
		if !ok || !conn.IsOpen() {
			continue
		}
		if _, dup := seen[conn.ID()]; dup {
			continue
		}
		seen[conn.ID()] = struct{}{}

		if err := conn.Send(msg); err != nil {
			log.Warn().
				Err(err).
				Str("groupId", groupID).
				Str("identity", identity).
				Str("type", msgType).
				Msg("fan-out delivery failed, dropping event")
			continue
		}
		delivered++
	}

	return delivered
}
