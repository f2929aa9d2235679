package postgresdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	postgresDriver             = "pgx"
	insecureDataSourceTemplate = "postgresql://%s:%s@%s:%d/%s?sslmode=disable"
	uniqueViolation            = "23505"
)

type repoManager struct {
	pgxPool *pgxpool.Pool

	signerRepository  *signerRepositoryPg
	sessionRepository *sessionRepositoryPg

	signerEventHandlers  *handlerMap
	sessionEventHandlers *handlerMap
}

func NewRepoManager(dbConfig DbConfig) (ports.RepoManager, error) {
	dataSource := insecureDataSourceStr(dbConfig)

	pgxPool, err := connect(dataSource)
	if err != nil {
		return nil, err
	}

	if err = migrateDb(dataSource, dbConfig.MigrationSourceURL); err != nil {
		return nil, err
	}

	rm := &repoManager{
		pgxPool:              pgxPool,
		signerRepository:     newSignerRepositoryPgImpl(pgxPool),
		sessionRepository:    newSessionRepositoryPgImpl(pgxPool),
		signerEventHandlers:  newHandlerMap(),
		sessionEventHandlers: newHandlerMap(),
	}

	go rm.listenToSignerEvents()
	go rm.listenToSessionEvents()

	return rm, nil
}

type DbConfig struct {
	DbUser             string
	DbPassword         string
	DbHost             string
	DbPort             int
	DbName             string
	MigrationSourceURL string
}

func (rm *repoManager) SignerRepository() domain.SignerRepository {
	return rm.signerRepository
}

func (rm *repoManager) SessionRepository() domain.SessionRepository {
	return rm.sessionRepository
}

func (rm *repoManager) RegisterHandlerForSignerEvent(
	eventType domain.SignerEventType, handler ports.SignerEventHandler,
) {
	rm.signerEventHandlers.set(int(eventType), handler)
}

func (rm *repoManager) RegisterHandlerForSessionEvent(
	eventType domain.SessionEventType, handler ports.SessionEventHandler,
) {
	rm.sessionEventHandlers.set(int(eventType), handler)
}

func (rm *repoManager) listenToSignerEvents() {
	for event := range rm.signerRepository.chEvents {
		time.Sleep(time.Millisecond)

		if handlers, ok := rm.signerEventHandlers.get(int(event.EventType)); ok {
			for i := range handlers {
				handler := handlers[i]
				go handler.(ports.SignerEventHandler)(event)
			}
		}
	}
}

func (rm *repoManager) listenToSessionEvents() {
	for event := range rm.sessionRepository.chEvents {
		time.Sleep(time.Millisecond)

		if handlers, ok := rm.sessionEventHandlers.get(int(event.EventType)); ok {
			for i := range handlers {
				handler := handlers[i]
				go handler.(ports.SessionEventHandler)(event)
			}
		}
	}
}

func (rm *repoManager) Reset() {
	if _, err := rm.pgxPool.Exec(
		context.Background(),
		"TRUNCATE session_outcome, signing_session, signer_descriptor, signer",
	); err != nil {
		log.WithError(err).Warn("postgres: failed to reset db")
	}
}

func (rm *repoManager) Close() {
	rm.signerRepository.close()
	rm.sessionRepository.close()

	rm.pgxPool.Close()
}

// handlerMap is a util type to prevent race conditions when registering
// or retrieving handlers for events.
type handlerMap struct {
	handlersByEventType map[int][]interface{}
	lock                *sync.RWMutex
}

func newHandlerMap() *handlerMap {
	return &handlerMap{
		handlersByEventType: make(map[int][]interface{}),
		lock:                &sync.RWMutex{},
	}
}

func (m *handlerMap) set(key int, val interface{}) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlersByEventType[key] = append(m.handlersByEventType[key], val)
}

func (m *handlerMap) get(key int) ([]interface{}, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	val, ok := m.handlersByEventType[key]
	return val, ok
}

func connect(dataSource string) (*pgxpool.Pool, error) {
	return pgxpool.Connect(context.Background(), dataSource)
}

func migrateDb(dataSource, migrationSourceUrl string) error {
	pg := postgres.Postgres{}

	d, err := pg.Open(dataSource)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrationSourceUrl,
		postgresDriver,
		d,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// insecureDataSourceStr converts database configuration params to connection string
func insecureDataSourceStr(dbConfig DbConfig) string {
	return fmt.Sprintf(
		insecureDataSourceTemplate,
		dbConfig.DbUser,
		dbConfig.DbPassword,
		dbConfig.DbHost,
		dbConfig.DbPort,
		dbConfig.DbName,
	)
}
