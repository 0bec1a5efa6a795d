package migrations

import (
	"ticket-gate/internal/store"
	"ticket-gate/security"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		if err := store.Migrate(app.DB()); err != nil {
			return err
		}

		// Gate devices sign in as records of their own auth collection.
		if _, err := app.FindCollectionByNameOrId(security.GatesCollection); err == nil {
			return nil
		}
		gates := core.NewAuthCollection(security.GatesCollection)
		return app.Save(gates)
	}, func(app core.App) error {
		if gates, err := app.FindCollectionByNameOrId(security.GatesCollection); err == nil {
			if err := app.Delete(gates); err != nil {
				return err
			}
		}

		_, err := app.DB().NewQuery("DROP TABLE IF EXISTS " + store.TicketsTable).Execute()
		return err
	})
}
