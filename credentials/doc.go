// Package credentials
// Author: momentics <momentics@gmail.com>
//
// User credential storage behind the login and registration forms. A Handle is
// one session to the backing store; handles are leased from a pool.Bounded and
// the whole user table is read once at startup into an immutable Snapshot.
package credentials
