// Package services defines the failure taxonomy and context helpers shared by
// the capture, spool, merge, and session packages.
//
// Key responsibilities:
//   - Sentinel markers for every failure class a recording session can end
//     with, plus the Wrap helper that tags errors with component context.
//   - Cause, which converts an error chain into the stable cause name stored
//     with failed sessions and shown to the user.
//   - Context helpers that stamp session IDs and source kinds for logging.
package services
