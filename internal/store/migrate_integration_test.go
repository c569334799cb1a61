// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/shavon/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("shavon_test"),
			postgres.WithUsername("shavon"),
			postgres.WithPassword("shavon"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			_ = migrator.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("starts at version zero with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(BeZero())
		Expect(status.Pending).To(HaveLen(3))
	})

	It("applies every migration", func() {
		Expect(migrator.Up()).To(Succeed())
		v, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(3)))
		Expect(dirty).To(BeFalse())
	})

	It("creates the auth tables", func() {
		pool, err := store.OpenPool(ctx, store.PoolConfig{URL: connStr})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		for _, table := range []string{"users", "login_attempts", "sessions"} {
			Expect(tableExists(ctx, pool, table)).To(BeTrue(), table)
		}
	})

	It("steps back and forward one migration", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(2)))

		Expect(migrator.Steps(1)).To(Succeed())
		v, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(3)))
	})

	It("rolls everything back", func() {
		Expect(migrator.Down()).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Force(2)).To(Succeed())
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(Equal(uint(2)))
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(HaveLen(1))
	})
})

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	Expect(err).NotTo(HaveOccurred())
	return exists
}
