package postgresdb

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/vulpemventures/quorum/internal/core/domain"
)

const (
	insertSignerQuery = `INSERT INTO signer (
		fingerprint, alias, kind, vendor, model, mnemonic_ref, service, token, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	selectSignerQuery = `SELECT
		fingerprint, alias, kind, vendor, model, mnemonic_ref, service, token, created_at
	FROM signer`
	selectDescriptorsQuery = `SELECT fingerprint, descriptor FROM signer_descriptor`
	insertDescriptorQuery  = `INSERT INTO signer_descriptor (fingerprint, descriptor)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
	updateAliasQuery  = `UPDATE signer SET alias = $2 WHERE fingerprint = $1`
	deleteSignerQuery = `DELETE FROM signer WHERE fingerprint = $1`
)

type signerRepositoryPg struct {
	pgxPool          *pgxpool.Pool
	chLock           *sync.Mutex
	closed           bool
	chEvents         chan domain.SignerEvent
	externalChEvents chan domain.SignerEvent
}

func NewSignerRepositoryPgImpl(pgxPool *pgxpool.Pool) domain.SignerRepository {
	return newSignerRepositoryPgImpl(pgxPool)
}

func newSignerRepositoryPgImpl(pgxPool *pgxpool.Pool) *signerRepositoryPg {
	return &signerRepositoryPg{
		pgxPool:          pgxPool,
		chLock:           &sync.Mutex{},
		chEvents:         make(chan domain.SignerEvent),
		externalChEvents: make(chan domain.SignerEvent),
	}
}

func (r *signerRepositoryPg) AddSigner(
	ctx context.Context, signer *domain.Signer,
) error {
	createdAt := signer.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	tx, err := r.pgxPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fp := signer.Fingerprint.String()
	kind := signer.Kind
	if _, err := tx.Exec(
		ctx, insertSignerQuery, fp, signer.Alias, int(kind.Type), kind.Vendor,
		kind.Model, kind.MnemonicRef, kind.Service, kind.Token, createdAt,
	); err != nil {
		if pqErr, ok := err.(*pgconn.PgError); ok && pqErr.Code == uniqueViolation {
			return domain.ErrSignerAlreadyExisting
		}
		return err
	}
	for _, descriptor := range signer.RegisteredDescriptors {
		if _, err := tx.Exec(ctx, insertDescriptorQuery, fp, descriptor); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAdded,
		Fingerprint: signer.Fingerprint,
		Alias:       signer.Alias,
	})
	return nil
}

func (r *signerRepositoryPg) GetSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) (*domain.Signer, error) {
	signers, err := r.selectSigners(ctx, fingerprint.String())
	if err != nil {
		return nil, err
	}
	if len(signers) <= 0 {
		return nil, domain.ErrSignerNotFound
	}
	return signers[0], nil
}

func (r *signerRepositoryPg) ListSigners(
	ctx context.Context,
) ([]*domain.Signer, error) {
	return r.selectSigners(ctx, "")
}

func (r *signerRepositoryPg) SetAlias(
	ctx context.Context, fingerprint domain.Fingerprint, alias string,
) error {
	tag, err := r.pgxPool.Exec(ctx, updateAliasQuery, fingerprint.String(), alias)
	if err != nil {
		return err
	}
	if tag.RowsAffected() <= 0 {
		return domain.ErrSignerNotFound
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerAliasUpdated,
		Fingerprint: fingerprint,
		Alias:       alias,
	})
	return nil
}

func (r *signerRepositoryPg) MarkRegistered(
	ctx context.Context, fingerprint domain.Fingerprint, descriptor string,
) error {
	if _, err := r.GetSigner(ctx, fingerprint); err != nil {
		return err
	}

	tag, err := r.pgxPool.Exec(
		ctx, insertDescriptorQuery, fingerprint.String(), descriptor,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() <= 0 {
		return nil
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDescriptorRegistered,
		Fingerprint: fingerprint,
		Descriptor:  descriptor,
	})
	return nil
}

func (r *signerRepositoryPg) DeleteSigner(
	ctx context.Context, fingerprint domain.Fingerprint,
) error {
	tag, err := r.pgxPool.Exec(ctx, deleteSignerQuery, fingerprint.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() <= 0 {
		return domain.ErrSignerNotFound
	}

	go r.publishEvent(domain.SignerEvent{
		EventType:   domain.SignerDeleted,
		Fingerprint: fingerprint,
	})
	return nil
}

func (r *signerRepositoryPg) GetEventChannel() chan domain.SignerEvent {
	return r.externalChEvents
}

func (r *signerRepositoryPg) selectSigners(
	ctx context.Context, fingerprint string,
) ([]*domain.Signer, error) {
	signerQuery, descQuery := selectSignerQuery, selectDescriptorsQuery
	args := make([]interface{}, 0, 1)
	if fingerprint != "" {
		signerQuery += " WHERE fingerprint = $1"
		descQuery += " WHERE fingerprint = $1"
		args = append(args, fingerprint)
	}
	signerQuery += " ORDER BY created_at"

	rows, err := r.pgxPool.Query(ctx, signerQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signers := make([]*domain.Signer, 0)
	byFingerprint := make(map[string]*domain.Signer)
	for rows.Next() {
		var (
			fp, alias, vendor, model, ref, service, token string
			kind                                          int
			createdAt                                     int64
		)
		if err := rows.Scan(
			&fp, &alias, &kind, &vendor, &model, &ref, &service, &token, &createdAt,
		); err != nil {
			return nil, err
		}
		parsedFp, err := domain.ParseFingerprint(fp)
		if err != nil {
			return nil, err
		}
		signer := &domain.Signer{
			Fingerprint: parsedFp,
			Alias:       alias,
			Kind: domain.SignerKind{
				Type:        domain.SignerKindType(kind),
				Vendor:      vendor,
				Model:       model,
				MnemonicRef: ref,
				Service:     service,
				Token:       token,
			},
			RegisteredDescriptors: make([]string, 0),
			CreatedAt:             createdAt,
		}
		signers = append(signers, signer)
		byFingerprint[fp] = signer
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	descRows, err := r.pgxPool.Query(ctx, descQuery, args...)
	if err != nil {
		return nil, err
	}
	defer descRows.Close()

	for descRows.Next() {
		var fp, descriptor string
		if err := descRows.Scan(&fp, &descriptor); err != nil {
			return nil, err
		}
		if signer, ok := byFingerprint[fp]; ok {
			signer.RegisteredDescriptors = append(
				signer.RegisteredDescriptors, descriptor,
			)
		}
	}
	return signers, descRows.Err()
}

func (r *signerRepositoryPg) publishEvent(event domain.SignerEvent) {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	// events produced after close are dropped.
	if r.closed {
		return
	}

	r.chEvents <- event
	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *signerRepositoryPg) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}
