// Package playbook wires the put pipeline together.
//
// Stages run strictly in order: resolve the configuration, materialize
// secrets, fetch the playbook repository when params carry no src, build the
// inventory, check the playbook, build the engine options, evaluate the policy guard when one is
// configured, run the engine,
// then summarize the recap into the response metadata. Every stage gets its
// own span and stage logger. Secret files are released on every exit path.
package playbook
