// SPDX-License-Identifier: MPL-2.0

/*
session is a package for the server side state of a browser session: the
pending login Transaction, the TokenSet and the UserIdentity established by a
successful login, and the reason for the last failed attempt.

A Session is addressed by an opaque id which is the only thing delivered to
the browser (see Manager). Sessions are persisted by a Store, and there are
three of them:

	MemoryStore: a process local map, for development and tests.
	SQLStore: SQLite or Postgres, with its schema managed by goose.
	RedisStore: Redis, using key expiry for the session TTL.

Token values are stored in the clear by every Store, so the backing storage
must be treated as secret.
*/
package session
