// Package contract defines the smart contracts the pipeline can instantiate.
//
// Overview:
//   - A Definition is the contract "class": a name, its state layout and a set of methods
//   - Each Method carries a gnark circuit, the code that turns caller arguments into a
//     witness assignment plus an account update, and the code that rebuilds the public
//     witness and state changes from public inputs on the verifier side
//   - An Instance binds a Definition to an on-chain address
//
// Cryptography:
//   - Keys and addresses live in the BN254 scalar field; a public key is MiMC(sk)
//   - Message text is mapped to one field element by hashing its character codes with MiMC
//   - Proofs are Groth16 over BN254, generated by the pipeline package
//
// Two contracts ship with the package: Message (publishMessage) and Add (add).
package contract
