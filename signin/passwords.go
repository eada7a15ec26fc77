package signin

import (
	"runtime"

	"github.com/alexedwards/argon2id"
	"github.com/jamesread/httpgatekeeper/gatepublic"
	log "github.com/sirupsen/logrus"
)

var defaultParams = argon2id.Params{
	Memory:      64 * 1024,
	Iterations:  4,
	Parallelism: uint8(runtime.NumCPU()),
	SaltLength:  16,
	KeyLength:   32,
}

// dummyHash is a valid Argon2id hash that will always fail comparison but
// takes similar time to verify, preventing timing attacks. Generated at
// package initialization so it uses the same parameters as real hashes.
var dummyHash string

func init() {
	hash, err := argon2id.CreateHash("dummy-password-for-timing-attack-prevention", &defaultParams)
	if err != nil {
		// Fallback to a hardcoded hash that will always fail comparison
		dummyHash = "$argon2id$v=19$m=65536,t=4,p=1$dGVzdHNhbHRlc3Q$dGVzdGhhc2h0ZXN0aGFzaHRlc3RoYXNo"
		log.Errorf("Failed to generate dummy hash, using fallback: %v", err)
	} else {
		dummyHash = hash
	}
}

// CreateHash hashes a password for storage in the local users config.
func CreateHash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, &defaultParams)

	if err != nil {
		log.Errorf("Error creating hash: %v", err)
		return "", err
	}

	return hash, nil
}

func comparePasswordAndHash(password, hash string) bool {
	match, err := argon2id.ComparePasswordAndHash(password, hash)

	if err != nil {
		log.Errorf("Error comparing password and hash: %v", err)
		return false
	}

	return match
}

// CheckUserPassword checks if the provided username and password are valid.
// To prevent timing attacks, this function always performs a password hash
// comparison, even when the user doesn't exist, using a dummy hash.
func CheckUserPassword(cfg *gatepublic.Config, username, password string) bool {
	if !cfg.LocalUsers.Enabled {
		return false
	}

	user := cfg.FindUserByUsername(username)

	if user == nil {
		comparePasswordAndHash(password, dummyHash)
		return false
	}

	return comparePasswordAndHash(password, user.Password)
}
