// Package main (cmd/registryd) runs a registry node.
//
// A node hosts the encrypted database registry contract over a persistent
// state store, the relayer that turns client ciphertexts into handles with
// input proofs, and the KMS that answers user decryption requests. All three
// are served from one HTTP listener:
//
//	/api/registry/...   signed transactions and read accessors
//	/v1/keyurl          network key material
//	/v1/input-proof     input verification
//	/v1/user-decrypt    user decryption
//	/api/admin/...      KMS unlock (only with --kms-admins-file)
//
// Configuration comes from an optional YAML file given with --config, with
// command line flags taking precedence:
//
//	listen_addr: 0.0.0.0:8080
//	chain_id: 31337
//	registry_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
//	verifying_contract: "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"
//	state:
//	  driver: postgres
//	  dsn: postgres://registry@localhost/registry
//	storage:
//	  - file:///var/lib/registry/ciphertexts
//	  - s3://bucket/ciphertexts?region=eu-west-1
//	kms:
//	  admins_file: shamir-admins.json
//
// With an admins file the KMS starts locked. Until a threshold of admins run
// `kms-admin submit` against the node, registry transactions and input proofs
// work but user decryption answers 503. Prometheus metrics are served on
// --metrics-addr.
package main
