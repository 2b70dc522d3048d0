// Package main (cmd/kms-admin) is the administrator tool for the Shamir
// unlock of a registry node KMS.
//
// The KMS response-signing master key never touches disk in the clear. It is
// generated by `split`, cut into shares with Shamir's Secret Sharing and each
// share is encrypted to one administrator's P-256 key. A node started with
// --kms-admins-file stays locked until a threshold of administrators submit
// their shares with signed requests.
//
// Example workflow for a 2-of-3 setup:
//
//  1. Each admin generates a key pair:
//     kms-admin generate-admin --admin-privkey-file=admin1-private.pem --admin-pubkey-file=admin1-public.pem
//
//  2. Write the admins file the node and the tool share:
//     kms-admin generate-shamir-config --shamir-threshold=2 --admin-pubkey-files=admin1-public.pem,admin2-public.pem,admin3-public.pem
//
//  3. Deal the master key once:
//     kms-admin split
//
//  4. After every node start, two admins submit:
//     kms-admin --node=http://node:8080 submit --admin-privkey-file=admin1-private.pem --admin-pubkey-file=admin1-public.pem
package main
