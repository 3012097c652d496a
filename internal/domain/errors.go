package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в запрошенной версии.
	ErrOrderNotFound = errors.New("order not found")
	// Попытка пересчитать live-версию заказа.
	ErrOrderCanNotBeRecalculated = errors.New("order can not be recalculated in live version")
	// Нарушены инварианты агрегата заказа.
	ErrOrderInvalid = errors.New("order is invalid")
	// Адрес не принадлежит заказу.
	ErrAddressNotFound = errors.New("order address not found")
	// Товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// Промо-акция или код не найдены.
	ErrPromotionNotFound = errors.New("promotion not found")
	// Способ доставки не найден или неактивен.
	ErrShippingMethodNotFound = errors.New("shipping method not found")
	// Ни один тариф способа доставки не подходит корзине.
	ErrShippingPriceNotFound = errors.New("no shipping price matches the cart")
	// Тарифы одного правила пересекаются по диапазону.
	ErrShippingTiersOverlap = errors.New("shipping price tiers overlap")
	// Корзина конвертируется в заказ до расчёта цен.
	ErrCartNotCalculated = errors.New("cart is not calculated")
	// Некорректные входные данные операции.
	ErrInvalidArgument = errors.New("invalid argument")

	// Версия не существует (удалена, слита или не создавалась).
	ErrVersionNotFound = errors.New("version does not exist")
	// Версия уже сливается другим запросом.
	ErrVersionMergeInProgress = errors.New("version merge in progress")
	// Строка отсутствует в версии.
	ErrRowNotFound = errors.New("row not found")
	// Вставка строки с занятым идентификатором.
	ErrRowExists = errors.New("row already exists")
	// Ссылка на несуществующую строку.
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// Сущность не описана в схеме версионирования.
	ErrUnknownEntity = errors.New("unknown entity")
	// Циклическая зависимость внешних ключей в схеме.
	ErrSchemaCycle = errors.New("schema foreign keys form a cycle")

	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind классифицирует ошибку для внешних слоёв.
type ErrorKind string

const (
	KindInternal     ErrorKind = "internal"
	KindNotFound     ErrorKind = "not_found"
	KindPrecondition ErrorKind = "precondition"
	KindConflict     ErrorKind = "conflict"
	KindInvalid      ErrorKind = "invalid"
)

type errorClass struct {
	err  error
	code string
	kind ErrorKind
}

var errorClasses = []errorClass{
	{ErrOrderNotFound, "ORDER_NOT_FOUND", KindNotFound},
	{ErrOrderCanNotBeRecalculated, "ORDER_CAN_NOT_BE_RECALCULATED", KindPrecondition},
	{ErrOrderInvalid, "ORDER_INVALID", KindInvalid},
	{ErrAddressNotFound, "ORDER_ADDRESS_NOT_FOUND", KindNotFound},
	{ErrProductNotFound, "PRODUCT_NOT_FOUND", KindNotFound},
	{ErrPromotionNotFound, "PROMOTION_NOT_FOUND", KindNotFound},
	{ErrShippingMethodNotFound, "SHIPPING_METHOD_NOT_FOUND", KindNotFound},
	{ErrShippingPriceNotFound, "SHIPPING_PRICE_NOT_FOUND", KindPrecondition},
	{ErrShippingTiersOverlap, "SHIPPING_TIERS_OVERLAP", KindPrecondition},
	{ErrCartNotCalculated, "CART_NOT_CALCULATED", KindInternal},
	{ErrInvalidArgument, "INVALID_ARGUMENT", KindInvalid},
	{ErrVersionNotFound, "VERSION_NOT_FOUND", KindNotFound},
	{ErrVersionMergeInProgress, "VERSION_MERGE_IN_PROGRESS", KindConflict},
	{ErrRowNotFound, "ROW_NOT_FOUND", KindNotFound},
	{ErrRowExists, "ROW_EXISTS", KindConflict},
	{ErrForeignKeyViolation, "FOREIGN_KEY_VIOLATION", KindInvalid},
	{ErrUnknownEntity, "UNKNOWN_ENTITY", KindInternal},
	{ErrSchemaCycle, "SCHEMA_CYCLE", KindInternal},
	{ErrOutboxPublish, "OUTBOX_PUBLISH_FAILED", KindInternal},
}

// Classify возвращает стабильный код и класс ошибки.
// Неизвестные ошибки считаются внутренними.
func Classify(err error) (string, ErrorKind) {
	for _, class := range errorClasses {
		if errors.Is(err, class.err) {
			return class.code, class.kind
		}
	}
	return "INTERNAL", KindInternal
}

// IsMergeInProgress проверяет, что версия захвачена другим слиянием.
func IsMergeInProgress(err error) bool {
	return errors.Is(err, ErrVersionMergeInProgress)
}
