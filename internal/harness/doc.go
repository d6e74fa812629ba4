// Package harness runs replica scenarios deterministically and checks the
// outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: two_users
//	description: "Concurrent first messages converge"
//	replicas: [user1, user2]
//	steps:
//	  - action: add
//	    replica: user1
//	    user: user1
//	    content: "Hello, anyone there?"
//	    label: m1
//	  - action: deliver
//	    change: m1
//	    to: [user2]
//	  - action: sync
//	    replica: user2
//	    peer: user1
//	assertions:
//	  - type: messages
//	    replica: user2
//	    messages:
//	      - { user: user1, content: "Hello, anyone there?" }
//	  - type: converged
//	    replicas: [user1, user2]
//
// # Step Actions
//
//   - add: post a message; label names the change and the message
//   - edit: rewrite a labelled message's content
//   - deliver: hand a labelled change to the listed replicas
//   - broadcast: deliver to every replica except the author (or to the listed ones)
//   - sync: run the sync protocol between replica and peer until quiet
//   - fork: copy replica's history into a new replica called name
//   - reload: save replica to the run's store and load it back
//
// # Assertion Types
//
//   - messages: exact ordered message list of a replica
//   - message_count: number of visible messages
//   - pending: number of changes waiting for dependencies
//   - converged: listed replicas have equal heads and equal messages
//
// # Deterministic Testing
//
// Replica actors are fixed (testutil.Actor by declaration order) and all
// replicas share one testutil.StepClock, so message timestamps, ids and
// change hashes are identical on every run. Each run gets a fresh
// in-memory SQLite store for reload steps.
package harness
