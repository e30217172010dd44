package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/daos"
	"github.com/pocketbase/pocketbase/migrations"
	pbModels "github.com/pocketbase/pocketbase/models"
	"github.com/pocketbase/pocketbase/models/schema"
	"github.com/pocketbase/pocketbase/tools/migrate"
	"github.com/pocketbase/pocketbase/tools/types"

	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
)

const deputiesCollection = "deputies"

// PocketBase field names. They match aliases the normalizer already knows, so
// a row goes through normalize.Deputy like any other payload.
const (
	fieldDeputyID    = "depute_id"
	fieldLegislature = "legislature"
	fieldGivenName   = "given_name"
	fieldFamilyName  = "family_name"
	fieldProfession  = "profession"
	fieldGroupName   = "political_group_name"
	fieldGroupID     = "political_group_id"
)

type PocketBaseStore struct {
	app *pocketbase.PocketBase
}

func NewPocketBaseStore(dataDir string) (*PocketBaseStore, error) {
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir:  dataDir,
		HideStartBanner: true,
	})

	if err := app.Bootstrap(); err != nil {
		return nil, fmt.Errorf("failed to bootstrap PocketBase: %w", err)
	}

	runner, err := migrate.NewRunner(app.DB(), migrations.AppMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations runner: %w", err)
	}
	applied, err := runner.Up()
	if err != nil {
		return nil, fmt.Errorf("failed to run PocketBase migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Printf("Applied %d PocketBase migrations", len(applied))
	}

	if err := ensureCollection(app.Dao()); err != nil {
		return nil, fmt.Errorf("failed to ensure collection exists: %w", err)
	}

	return &PocketBaseStore{app: app}, nil
}

func newDeputiesCollection() *pbModels.Collection {
	text := func(name string, required bool) *schema.SchemaField {
		return &schema.SchemaField{Name: name, Type: schema.FieldTypeText, Required: required}
	}
	return &pbModels.Collection{
		Name: deputiesCollection,
		Type: pbModels.CollectionTypeBase,
		Schema: schema.NewSchema(
			text(fieldDeputyID, true),
			text(fieldLegislature, true),
			text(fieldGivenName, false),
			text(fieldFamilyName, false),
			text(fieldProfession, false),
			text(fieldGroupName, false),
			text(fieldGroupID, false),
		),
		Indexes: types.JsonArray[string]{
			"CREATE UNIQUE INDEX idx_deputies_leg_id ON deputies (legislature, depute_id)",
		},
	}
}

func ensureCollection(dao *daos.Dao) error {
	if _, err := dao.FindCollectionByNameOrId(deputiesCollection); err == nil {
		return nil
	}
	if err := dao.SaveCollection(newDeputiesCollection()); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

func (s *PocketBaseStore) BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	collection, err := s.app.Dao().FindCollectionByNameOrId(deputiesCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to find collection: %w", err)
	}

	var records []*pbModels.Record
	err = s.app.Dao().RecordQuery(collection).
		WithContext(ctx).
		AndWhere(dbx.HashExp{fieldLegislature: legislature}).
		AndWhere(dbx.In(fieldDeputyID, values...)).
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deputies: %w", err)
	}

	out := make([]models.DeputyRecord, 0, len(records))
	for _, record := range records {
		out = append(out, recordToDeputy(record))
	}
	return out, nil
}

func (s *PocketBaseStore) Count(ctx context.Context, legislature string) (int, error) {
	collection, err := s.app.Dao().FindCollectionByNameOrId(deputiesCollection)
	if err != nil {
		return 0, fmt.Errorf("failed to find collection: %w", err)
	}

	var total int
	err = s.app.Dao().RecordQuery(collection).
		WithContext(ctx).
		Select("count(*)").
		AndWhere(dbx.HashExp{fieldLegislature: legislature}).
		Row(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count deputies: %w", err)
	}
	return total, nil
}

func (s *PocketBaseStore) SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error) {
	records = validRecords(records)
	if len(records) == 0 {
		return 0, nil
	}

	saved := 0
	err := s.app.Dao().RunInTransaction(func(txDao *daos.Dao) error {
		collection, err := txDao.FindCollectionByNameOrId(deputiesCollection)
		if err != nil {
			return fmt.Errorf("failed to find collection: %w", err)
		}
		for _, d := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			existing, err := txDao.FindRecordsByExpr(deputiesCollection, dbx.HashExp{
				fieldLegislature: legislature,
				fieldDeputyID:    d.ID,
			})
			if err != nil {
				return fmt.Errorf("failed to look up deputy %s: %w", d.ID, err)
			}

			record := pbModels.NewRecord(collection)
			if len(existing) > 0 {
				record = existing[0]
			}
			fillRecord(record, legislature, d)

			if err := txDao.SaveRecord(record); err != nil {
				return fmt.Errorf("failed to save deputy %s: %w", d.ID, err)
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

func (s *PocketBaseStore) Close() error {
	return s.app.ResetBootstrapState()
}

func fillRecord(record *pbModels.Record, legislature string, d models.DeputyRecord) {
	record.Set(fieldDeputyID, d.ID)
	record.Set(fieldLegislature, legislature)
	record.Set(fieldGivenName, d.GivenName)
	record.Set(fieldFamilyName, d.FamilyName)
	record.Set(fieldProfession, d.Profession)
	record.Set(fieldGroupName, d.PoliticalGroupName)
	record.Set(fieldGroupID, d.PoliticalGroupID)
}

func recordToDeputy(record *pbModels.Record) models.DeputyRecord {
	return normalize.Deputy(models.RawRecord{
		fieldDeputyID:   record.GetString(fieldDeputyID),
		fieldGivenName:  record.GetString(fieldGivenName),
		fieldFamilyName: record.GetString(fieldFamilyName),
		fieldProfession: record.GetString(fieldProfession),
		fieldGroupName:  record.GetString(fieldGroupName),
		fieldGroupID:    record.GetString(fieldGroupID),
	})
}
