package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/fileops"
	"assetlibrary/internal/layout"
	"assetlibrary/internal/repository"
)

// EventPublisher receives change notifications. events.Bus implements it.
type EventPublisher interface {
	Publish(domain.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func loggerOrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// LockOwner identifies this process in tier_lock rows.
func LockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func scopeKey(familyUUID uuid.UUID, variant string) string {
	return "tier:" + familyUUID.String() + "/" + variant
}

func publishKey(name, assetType string) string {
	return "publish:" + assetType + "/" + name
}

// scopeLocker serializes tier transitions per family/variant across processes.
type scopeLocker struct {
	locks *repository.LockRepository
	owner string
	log   *zap.Logger
}

func newScopeLocker(locks *repository.LockRepository, log *zap.Logger) scopeLocker {
	return scopeLocker{locks: locks, owner: LockOwner(), log: loggerOrNop(log)}
}

// lock takes the advisory lock of every listed variant of a family.
func (l scopeLocker) lock(ctx context.Context, familyUUID uuid.UUID, variants ...string) (*heldScope, error) {
	keys := make([]string, 0, len(variants))
	for _, v := range variants {
		keys = append(keys, scopeKey(familyUUID, v))
	}
	return l.lockKeys(ctx, keys...)
}

// lockKeys takes the given scopes in sorted order and keeps renewing them
// until the returned scope is released.
func (l scopeLocker) lockKeys(ctx context.Context, keys ...string) (*heldScope, error) {
	sort.Strings(keys)
	leases, err := l.locks.AcquireAll(ctx, keys, l.owner)
	if err != nil {
		return nil, err
	}
	h := &heldScope{
		locks:  l.locks,
		leases: leases,
		log:    l.log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.keepAlive(l.locks.TTL() / 3)
	return h, nil
}

// heldScope is a set of leases renewed in the background until release.
// A nil heldScope holds nothing.
type heldScope struct {
	locks  *repository.LockRepository
	leases []*repository.Lease
	log    *zap.Logger
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (h *heldScope) keepAlive(interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			for _, lease := range h.leases {
				if err := h.locks.Renew(context.Background(), lease); err != nil {
					h.log.Warn("lease renewal failed", zap.String("scope", lease.Scope), zap.Error(err))
				}
			}
		}
	}
}

// verifyTx renews every lease inside tx. It fails when a lease expired and
// another owner took the scope, so the caller's transaction never commits.
func (h *heldScope) verifyTx(ctx context.Context, tx *sqlx.Tx) error {
	if h == nil {
		return nil
	}
	for _, lease := range h.leases {
		if err := h.locks.RenewTx(ctx, tx, lease); err != nil {
			return err
		}
	}
	return nil
}

func (h *heldScope) release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		if err := h.locks.ReleaseAll(context.Background(), h.leases); err != nil {
			h.log.Warn("failed to release scope lock", zap.Error(err))
		}
	})
}

// fileMove is one file of a tier transition, both paths relative to the root.
// An empty dst only deletes src once the metadata is committed.
type fileMove struct {
	src string
	dst string
}

func (mv fileMove) copies() bool {
	return mv.dst != "" && mv.src != mv.dst
}

// batch is the file side of one tier transition of the rows in ids.
type batch struct {
	family *domain.AssetFamily
	ids    []uuid.UUID
	moves  []fileMove
	// written holds files created next to the copies, such as archive meta.
	written []string
}

// mover runs the copy, commit metadata, delete original sequence shared by
// archive, promote, retire and restore.
type mover struct {
	resolver *layout.Resolver
	versions *repository.VersionRepository
	log      *zap.Logger
}

// copyAll copies every source to its destination and verifies sizes. On
// failure the copies written so far are abandoned and the sources are left
// untouched.
func (m mover) copyAll(ctx context.Context, b *batch) error {
	for i, mv := range b.moves {
		if !mv.copies() {
			continue
		}
		if _, err := fileops.CopyVerified(m.resolver.Abs(mv.src), m.resolver.Abs(mv.dst)); err != nil {
			m.log.Warn("copy phase failed", zap.String("path", mv.src), zap.Error(err))
			m.abandon(ctx, &batch{family: b.family, ids: b.ids, moves: b.moves[:i]})
			return err
		}
	}
	return nil
}

// abandon removes the copies and written files of a transition that will not
// commit. Paths a row points at are kept: a transition that lost its lease
// can share destinations with the one that committed.
func (m mover) abandon(ctx context.Context, b *batch) {
	keep, err := m.referenced(ctx, b)
	if err != nil {
		m.log.Warn("cannot re-read rows of abandoned transition; copies left for reconciliation", zap.Error(err))
		return
	}

	paths := make([]string, 0, len(b.moves)+len(b.written))
	for _, mv := range b.moves {
		if mv.copies() {
			paths = append(paths, mv.dst)
		}
	}
	paths = append(paths, b.written...)

	for _, rel := range paths {
		if _, ok := keep[rel]; ok {
			m.log.Warn("copy is referenced by a committed row; keeping it", zap.String("path", rel))
			continue
		}
		if err := fileops.Remove(m.resolver.Abs(rel)); err != nil {
			m.log.Warn("failed to discard copied file", zap.String("path", rel), zap.Error(err))
		}
	}
}

// referenced re-reads the rows of b and collects every path they point at.
func (m mover) referenced(ctx context.Context, b *batch) (map[string]struct{}, error) {
	keep := map[string]struct{}{}
	ctx = context.WithoutCancel(ctx)
	for _, id := range b.ids {
		v, err := m.versions.Get(ctx, id)
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keep[v.PayloadPath] = struct{}{}
		if v.ThumbnailPath != "" {
			keep[v.ThumbnailPath] = struct{}{}
		}
		if v.Tier == domain.TierArchive && b.family != nil {
			keep[m.resolver.ArchiveMeta(v.Ref(b.family))] = struct{}{}
		}
	}
	return keep, nil
}

// removeSources deletes the originals after the metadata commit. Failures
// leave a stale duplicate for reconciliation and are only logged.
func (m mover) removeSources(moves []fileMove) {
	dirs := map[string]struct{}{}
	for _, mv := range moves {
		if mv.src == mv.dst {
			continue
		}
		if err := fileops.Remove(m.resolver.Abs(mv.src)); err != nil {
			m.log.Warn("failed to delete original after commit; stale duplicate left",
				zap.String("path", mv.src), zap.Error(err))
			continue
		}
		dirs[path.Dir(mv.src)] = struct{}{}
	}
	m.pruneDirs(dirs)
}

func (m mover) pruneDirs(dirs map[string]struct{}) {
	for dir := range dirs {
		fileops.PruneEmptyDirs(m.resolver.Abs(dir), m.resolver.Root())
	}
}

// checkCancelled is the last point at which a transition may be abandoned.
// Once the metadata transaction starts the operation runs to completion.
func (m mover) checkCancelled(ctx context.Context, op string, b *batch) error {
	if err := ctx.Err(); err != nil {
		m.abandon(ctx, b)
		return apperr.Cancelled(op, err)
	}
	return nil
}

// versionMoves lists the payload and thumbnail moves of a version to a tier.
func versionMoves(r *layout.Resolver, v *domain.AssetVersion, f *domain.AssetFamily, to domain.Tier) (moves []fileMove, payload, thumbnail string) {
	ref := v.Ref(f)
	payload = r.Payload(ref, to)
	moves = append(moves, fileMove{src: v.PayloadPath, dst: payload})
	if v.ThumbnailPath != "" {
		thumbnail = r.Thumbnail(ref, to)
		moves = append(moves, fileMove{src: v.ThumbnailPath, dst: thumbnail})
	}
	return moves, payload, thumbnail
}
