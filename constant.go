package iso8583

// Message type indicators used by the connector.
const (
	MTIAuthorizationRequest  = "0100"
	MTIAuthorizationResponse = "0110"
	MTIFinancialRequest      = "0200"
	MTIFinancialResponse     = "0210"
	MTIReversalRequest       = "0400"
	MTIReversalResponse      = "0410"
	MTIReversalAdvice        = "0420"
	MTIReversalAdviceResp    = "0430"
	MTINetworkRequest        = "0800"
	MTINetworkResponse       = "0810"
)

// Data element numbers referenced by name.
const (
	FieldPAN                  = 2
	FieldProcessingCode       = 3
	FieldAmount               = 4
	FieldTransmissionDateTime = 7
	FieldSTAN                 = 11
	FieldLocalTime            = 12
	FieldLocalDate            = 13
	FieldExpiryDate           = 14
	FieldPOSEntryMode         = 22
	FieldCardSequenceNumber   = 23
	FieldPOSConditionCode     = 25
	FieldAcquirerID           = 32
	FieldForwarderID          = 33
	FieldTrack2               = 35
	FieldRRN                  = 37
	FieldAuthCode             = 38
	FieldResponseCode         = 39
	FieldTerminalID           = 41
	FieldMerchantID           = 42
	FieldCardAcceptorName     = 43
	FieldAdditionalData       = 48
	FieldCurrencyCode         = 49
	FieldPINBlock             = 52
	FieldICCData              = 55
	FieldReasonCode           = 56
	FieldPrimaryMAC           = 64
	FieldNetworkMgmtCode      = 70
	FieldOriginalData         = 90
	FieldSecondaryMAC         = 128
)

func fixedN(n int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatFixedNumeric, Type: FieldTypeN, Length: n}
}

func fixedA(n int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatFixedAlpha, Type: FieldTypeANS, Length: n}
}

func fixedB(n int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatBinary, Type: FieldTypeB, Length: n}
}

func llvar(max int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatLLVAR, Type: FieldTypeANS, MaxLength: max}
}

func llvarN(max int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatLLVAR, Type: FieldTypeN, MaxLength: max}
}

func llvarZ(max int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatLLVAR, Type: FieldTypeZ, MaxLength: max}
}

func lllvar(max int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatLLLVAR, Type: FieldTypeANS, MaxLength: max}
}

func lllvarB(max int, name string) FieldConfig {
	return FieldConfig{Name: name, Format: FormatLLLVAR, Type: FieldTypeB, MaxLength: max}
}

// DefaultFields is the built-in field specification table (ISO 8583:1987
// layout). Payment networks with a different dictionary load their own
// table with LoadPackagerFromJSON or LoadPackagerFromYAML.
var DefaultFields = map[int]FieldConfig{
	2:   llvarN(19, "Primary Account Number (PAN)"),
	3:   fixedN(6, "Processing Code"),
	4:   fixedN(12, "Amount, Transaction"),
	5:   fixedN(12, "Amount, Settlement"),
	6:   fixedN(12, "Amount, Cardholder Billing"),
	7:   fixedN(10, "Transmission Date & Time (MMDDhhmmss)"),
	8:   fixedN(8, "Amount, Cardholder Billing Fee"),
	9:   fixedN(8, "Conversion Rate, Settlement"),
	10:  fixedN(8, "Conversion Rate, Cardholder Billing"),
	11:  fixedN(6, "System Trace Audit Number (STAN)"),
	12:  fixedN(6, "Time, Local Transaction (hhmmss)"),
	13:  fixedN(4, "Date, Local Transaction (MMDD)"),
	14:  fixedN(4, "Date, Expiration"),
	15:  fixedN(4, "Date, Settlement"),
	16:  fixedN(4, "Date, Conversion"),
	17:  fixedN(4, "Date, Capture"),
	18:  fixedN(4, "Merchant Type"),
	19:  fixedN(4, "Acquiring Institution Country Code"),
	20:  fixedN(4, "PAN Extended, Country Code"),
	21:  fixedN(3, "Forwarding Institution Country Code"),
	22:  fixedN(3, "Point of Service Entry Mode"),
	23:  fixedN(3, "Application PAN Sequence Number"),
	24:  fixedN(3, "Function Code (ISO 8583:1993) / Network International Identifier"),
	25:  fixedN(2, "Point of Service Condition Code"),
	26:  fixedN(2, "Point of Service Capture Code"),
	27:  fixedN(3, "Authorizing Identification Response Length"),
	28:  fixedA(9, "Amount, Transaction Fee (X+N 8)"),
	29:  fixedA(9, "Amount, Settlement Fee (X+N 8)"),
	30:  fixedA(9, "Amount, Transaction Processing Fee (X+N 8)"),
	31:  llvar(9, "Amount, Settlement Processing Fee (X+N 8)"),
	32:  llvarN(11, "Acquiring Institution Identification Code"),
	33:  llvarN(11, "Forwarding Institution Identification Code"),
	34:  llvar(28, "Primary Account Number, Extended"),
	35:  llvarZ(37, "Track 2 Data"),
	36:  llvarZ(99, "Track 3 Data"),
	37:  fixedA(12, "Retrieval Reference Number"),
	38:  fixedA(6, "Authorization Identification Response"),
	39:  fixedA(2, "Response Code"),
	40:  fixedA(3, "Service Restriction Code"),
	41:  fixedA(8, "Card Acceptor Terminal Identification"),
	42:  fixedA(15, "Card Acceptor Identification Code"),
	43:  fixedA(40, "Card Acceptor Name/Location"),
	44:  llvar(25, "Additional Response Data"),
	45:  llvar(76, "Track 1 Data"),
	46:  lllvar(999, "Additional Data - ISO"),
	47:  lllvar(999, "Additional Data - National"),
	48:  lllvar(999, "Additional Data - Private"),
	49:  fixedN(3, "Currency Code, Transaction"),
	50:  fixedN(3, "Currency Code, Settlement"),
	51:  fixedN(3, "Currency Code, Cardholder Billing"),
	52:  fixedB(8, "Personal Identification Number (PIN) Data"),
	53:  fixedN(16, "Security Related Control Information"),
	54:  lllvar(120, "Additional Amounts"),
	55:  lllvarB(999, "ICC Data (EMV)"),
	56:  lllvar(999, "Message Reason Code"),
	57:  lllvar(999, "Reserved National"),
	58:  lllvar(999, "Reserved National"),
	59:  lllvar(999, "Reserved National"),
	60:  lllvar(999, "Reserved Private"),
	61:  lllvar(999, "Reserved Private"),
	62:  lllvar(999, "Reserved Private"),
	63:  lllvar(999, "Reserved Private"),
	64:  fixedB(8, "Message Authentication Code (MAC)"),
	65:  fixedB(1, "Extended Bitmap"),
	66:  fixedN(1, "Settlement Code"),
	67:  fixedN(2, "Extended Payment Code"),
	68:  fixedN(3, "Receiving Institution Country Code"),
	69:  fixedN(3, "Settlement Institution Country Code"),
	70:  fixedN(3, "Network Management Information Code"),
	71:  fixedN(4, "Message Number"),
	72:  fixedN(4, "Message Number, Last"),
	73:  fixedN(6, "Date, Action (YYYYMMDD)"),
	74:  fixedN(10, "Credits, Number"),
	75:  fixedN(10, "Credits, Reversal Number"),
	76:  fixedN(10, "Debits, Number"),
	77:  fixedN(10, "Debits, Reversal Number"),
	78:  fixedN(10, "Transfer, Number"),
	79:  fixedN(10, "Transfer, Reversal Number"),
	80:  fixedN(10, "Inquiries, Number"),
	81:  fixedN(10, "Authorizations, Number"),
	82:  fixedN(12, "Credits, Processing Fee Amount"),
	83:  fixedN(12, "Credits, Transaction Fee Amount"),
	84:  fixedN(12, "Debits, Processing Fee Amount"),
	85:  fixedN(12, "Debits, Transaction Fee Amount"),
	86:  fixedN(16, "Credits, Amount"),
	87:  fixedN(16, "Credits, Reversal Amount"),
	88:  fixedN(16, "Debits, Amount"),
	89:  fixedN(16, "Debits, Reversal Amount"),
	90:  fixedN(42, "Original Data Elements"),
	91:  fixedA(1, "File Update Code"),
	92:  fixedA(2, "File Security Code"),
	93:  fixedA(5, "Response Indicator"),
	94:  fixedA(7, "Service Indicator"),
	95:  fixedA(42, "Replacement Amounts"),
	96:  fixedB(8, "Message Security Code"),
	97:  fixedA(17, "Amount, Net Settlement (X+N 16)"),
	98:  fixedA(25, "Payee"),
	99:  llvarN(11, "Settlement Institution Identification Code"),
	100: llvarN(11, "Receiving Institution Identification Code"),
	101: llvar(17, "File Name"),
	102: llvar(28, "Account Identification 1"),
	103: llvar(28, "Account Identification 2"),
	104: lllvar(100, "Transaction Description"),
	105: lllvar(999, "Reserved for ISO Use"),
	106: lllvar(999, "Reserved for ISO Use"),
	107: lllvar(999, "Reserved for ISO Use"),
	108: lllvar(999, "Reserved for ISO Use"),
	109: lllvar(999, "Reserved for ISO Use"),
	110: lllvar(999, "Reserved for ISO Use"),
	111: lllvar(999, "Reserved for ISO Use"),
	112: lllvar(999, "Reserved for National Use"),
	113: lllvar(999, "Reserved for National Use"),
	114: lllvar(999, "Reserved for National Use"),
	115: lllvar(999, "Reserved for National Use"),
	116: lllvar(999, "Reserved for National Use"),
	117: lllvar(999, "Reserved for National Use"),
	118: lllvar(999, "Reserved for National Use"),
	119: lllvar(999, "Reserved for National Use"),
	120: lllvar(999, "Reserved for Private Use"),
	121: lllvar(999, "Reserved for Private Use"),
	122: lllvar(999, "Reserved for Private Use"),
	123: lllvar(999, "Reserved for Private Use"),
	124: lllvar(999, "Reserved for Private Use"),
	125: lllvar(999, "Reserved for Private Use"),
	126: lllvar(999, "Reserved for Private Use"),
	127: lllvar(999, "Reserved for Private Use"),
	128: fixedB(8, "Message Authentication Code (MAC)"),
}
