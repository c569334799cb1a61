// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Admin commands", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx)
		output, err := shavon(ctx, "", "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", output)
		Expect(output).To(ContainSubstring("Migrations completed successfully"))
	})

	Describe("migrate status", func() {
		It("reports every migration as applied", func() {
			output, err := shavon(ctx, "", "migrate", "status")
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(MatchRegexp(`Dirty:\s+false`))
			Expect(output).NotTo(ContainSubstring("pending"))
		})
	})

	Describe("user create", func() {
		It("stores a normalized, hashed user", func() {
			output, err := shavon(ctx, "s3cret-pass\n", "user", "create",
				"--email", "Admin@Example.com", "--password-stdin")
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(ContainSubstring("(ad***@example.com)"))

			var hash string
			var active bool
			err = env.pool.QueryRow(ctx,
				"SELECT password, is_active FROM users WHERE email = $1", "admin@example.com",
			).Scan(&hash, &active)
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(HaveLen(192))
			Expect(hash).NotTo(ContainSubstring("s3cret-pass"))
			Expect(active).To(BeTrue())
		})

		It("rejects a duplicate email", func() {
			_, err := shavon(ctx, "", "user", "create", "--email", "dup@example.com", "--password", "pw-one")
			Expect(err).NotTo(HaveOccurred())

			output, err := shavon(ctx, "", "user", "create", "--email", "DUP@example.com", "--password", "pw-two")
			Expect(err).To(HaveOccurred())
			Expect(output).NotTo(ContainSubstring("pw-two"))
		})
	})

	Describe("user deactivate", func() {
		It("drops the user's sessions", func() {
			_, err := shavon(ctx, "", "user", "create", "--email", "idle@example.com", "--password", "password")
			Expect(err).NotTo(HaveOccurred())

			var id int64
			Expect(env.pool.QueryRow(ctx, "SELECT id FROM users WHERE email = 'idle@example.com'").Scan(&id)).To(Succeed())
			_, err = env.pool.Exec(ctx, `
				INSERT INTO sessions (session_key, user_id, created_at, last_accessed)
				VALUES ('k1', $1, now(), now()), ('k2', $1, now(), now())`, id)
			Expect(err).NotTo(HaveOccurred())

			output, err := shavon(ctx, "", "user", "deactivate", strconv.FormatInt(id, 10))
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(ContainSubstring("dropped 2 session(s)"))

			var count int
			Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE user_id = $1", id).Scan(&count)).To(Succeed())
			Expect(count).To(BeZero())
		})
	})

	Describe("user import", func() {
		It("is idempotent", func() {
			fixture := filepath.Join(GinkgoT().TempDir(), "users.yaml")
			Expect(os.WriteFile(fixture, []byte(`
users:
  - email: one@example.com
    password: first-pass
  - email: two@example.com
    password: second-pass
    active: false
`), 0o600)).To(Succeed())

			output, err := shavon(ctx, "", "user", "import", fixture)
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(ContainSubstring("Imported 2 user(s), skipped 0"))

			output, err = shavon(ctx, "", "user", "import", fixture)
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(ContainSubstring("Imported 0 user(s), skipped 2"))
		})
	})

	Describe("sessions prune", func() {
		It("removes only sessions idle past the TTL", func() {
			_, err := shavon(ctx, "", "user", "create", "--email", "prune@example.com", "--password", "password")
			Expect(err).NotTo(HaveOccurred())
			_, err = env.pool.Exec(ctx, `
				INSERT INTO sessions (session_key, user_id, created_at, last_accessed)
				SELECT 'stale', id, now() - interval '3 hours', now() - interval '2 hours' FROM users WHERE email = 'prune@example.com'
				UNION ALL
				SELECT 'fresh', id, now(), now() FROM users WHERE email = 'prune@example.com'`)
			Expect(err).NotTo(HaveOccurred())

			GinkgoT().Setenv("SHAVON_AUTH__SESSION_IDLE_TTL", "1h")
			output, err := shavon(ctx, "", "sessions", "prune")
			Expect(err).NotTo(HaveOccurred(), output)
			Expect(output).To(ContainSubstring("Pruned 1 session(s)"))
		})
	})
})
