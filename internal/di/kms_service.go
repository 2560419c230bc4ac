package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/planbridge/planbridge/internal/kms"
)

// KMSService wraps the credential decrypter for DI. AWS KMS when a key id is
// configured, local AES-GCM otherwise.
type KMSService struct {
	Decrypter kms.Decrypter
}

// NewKMS selects and builds the decrypter from configuration.
func NewKMS(i do.Injector) (*KMSService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	if keyID, ok := cfgSvc.Config.KMS.GetKeyIDOption().Get(); ok {
		dec, err := kms.NewAWSDecrypter(context.Background(), cfgSvc.Config.Bedrock.GetRegion(), keyID, *logSvc.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create aws kms decrypter: %w", err)
		}
		return &KMSService{Decrypter: dec}, nil
	}

	dec, err := kms.NewLocalDecrypter(cfgSvc.Config.KMS.LocalEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create local decrypter: %w", err)
	}
	return &KMSService{Decrypter: dec}, nil
}
