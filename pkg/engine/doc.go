// Package engine runs ansible-playbook and reads back its verdict.
//
// The executor builds the command line from config.Options, keeps secrets
// off argv (the vault password goes through stdin, connection and become
// passwords through the environment), streams the engine output to the
// build log and parses the PLAY RECAP into per-host RunStats.
//
// Exit codes are classified once:
//
//   - 0, 2, 3, 4 and 6 with a recap are completed runs; host failures and
//     unreachable hosts are left in the stats. The task queue reports
//     unreachable hosts as 4.
//   - 1, 5, and 4 without a recap, are structured engine errors. They are
//     logged and the run is reported with exit code 1.
//   - Anything else (interrupts, crashes, a missing binary) is a fatal
//     EngineError and aborts the invocation.
package engine
