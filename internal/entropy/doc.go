// Package entropy implements the multi-source entropy pipeline.
//
// Three sources feed the experiment console, tried in a fixed order:
//
//  1. Spectral: least-significant bits of I/Q samples from a
//     software-defined radio, whitened with SHA3-256.
//  2. Online: a remote quantum-randomness HTTP API, fetched in bounded
//     chunks.
//  3. Fallback: the platform CSPRNG, which cannot fail.
//
// The ordering is a deliberate policy choice. Physical entropy is
// preferred, network-sourced randomness is secondary, and the software
// CSPRNG is the trust floor. Chain.Fetch therefore never fails and
// always returns the requested number of bytes.
//
// Sources report failures as *SourceError with a code, letting the
// chain fall through on genuine outages without swallowing programming
// errors.
package entropy
