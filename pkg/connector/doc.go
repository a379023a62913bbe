// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector manages the bridge's Mattermost session.
//
// [Client] owns one bot account connection. It authenticates the bot token,
// resolves the configured team and listens on the WebSocket for posted
// messages and added reactions, which it hands to an [EventSink] as raw
// chat payloads. REST operations (posts, direct messages, reactions,
// channel membership, custom status) are exposed as methods and fail with
// [ErrNotConnected] while no session exists.
//
// # Lifecycle
//
// The connection moves Disconnected, Connecting, Connected, Disconnecting
// and back. Observers register on [Client.OnConnected] and
// [Client.OnDisconnecting] under a key, so re-registering replaces rather
// than duplicates. A closed WebSocket is handled as a disconnect with
// status "aborted"; there is no automatic reconnect.
//
// [Client.Restart] is guarded by a gate that stays closed after a
// successful restart until [Client.OpenRestartGate] is called.
//
// # Echo Prevention
//
// Posts and reactions made by the bot itself, system posts and posts from
// usernames carrying the configured bot prefix are never forwarded.
package connector
