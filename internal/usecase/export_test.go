package usecase

// SetCodeGenerator replaces the random code source of a registry built by
// NewCodeRegistryUseCase.
func SetCodeGenerator(uc CodeRegistryUseCase, gen func() (string, error)) {
	uc.(*codeRegistryUC).newCode = gen
}
