// Package preflight provides readiness checks for the directories and
// external binaries a recording depends on.
//
// These checks run in two contexts:
//   - The daemon and the record command call RunAll before accepting work
//     and log failures as warnings.
//   - The CLI "airecorder doctor" command renders every Result and the
//     dependency statuses from CheckSystemDeps.
package preflight
