// Package discovery pairs enumerated ports into links and prunes links
// whose ports went away.
//
// Pairing first tries message echo over every unpaired input/output
// combination, confirming a pair when a Sync frame carrying random bytes
// comes back. The first confirmed pair wins. Echo is unreliable for
// devices already in bootloader mode on some hosts, so ports left over are
// paired naively: one input with one output, or by the version tag the
// transport reports for both ports of a device. The naive pass is a
// heuristic and can mispair devices sharing a version.
package discovery
